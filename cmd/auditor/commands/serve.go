package commands

import (
	"context"
	"errors"
	"os"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wojas/go-healthz"

	"github.com/ALU-Schumacher/AUDITOR-sub000/lmdbenv"
	"github.com/ALU-Schumacher/AUDITOR-sub000/server"
	"github.com/ALU-Schumacher/AUDITOR-sub000/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	if conf.Server.Address == "" {
		return errors.New("no server.address configured")
	}

	opt := conf.Server.Options
	opt.EnvFlags |= lmdb.Create
	env, err := lmdbenv.NewWithOptions(conf.Server.Path, opt)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			logrus.WithError(err).Error("Env close failed")
		}
	}()

	st, err := store.New(env, store.Options{
		Lenient: conf.Server.LenientDuplicates,
	})
	if err != nil {
		return err
	}

	healthz.AddBuildInfo()
	if hostname, err := os.Hostname(); err == nil {
		healthz.SetMeta("hostname", hostname)
	}
	healthz.SetMeta("version", version)

	return server.New(st, conf).Run(rootCtx)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the record store with its HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Fatal("Error")
		}
	},
}
