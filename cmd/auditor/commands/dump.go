package commands

import (
	"errors"
	"io"
	"os"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ALU-Schumacher/AUDITOR-sub000/lmdbenv"
	"github.com/ALU-Schumacher/AUDITOR-sub000/store"
)

var (
	dumpOutput string
	dumpGzip   bool
)

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Output file (default stdout)")
	dumpCmd.Flags().BoolVar(&dumpGzip, "gzip", false, "Compress the output with gzip")
}

func runDump() error {
	if conf.Server.Path == "" {
		return errors.New("no server.path configured")
	}

	opt := conf.Server.Options
	opt.EnvFlags |= lmdb.Readonly
	env, err := lmdbenv.NewWithOptions(conf.Server.Path, opt)
	if err != nil {
		return err
	}
	defer env.Close()

	st, err := store.NewReadOnly(env)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if dumpOutput != "" {
		f, err := os.Create(dumpOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if dumpGzip {
		gw := gzip.NewWriter(w)
		defer gw.Close()
		w = gw
	}
	return st.Dump(w)
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump all records as JSON lines",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDump(); err != nil {
			logrus.WithError(err).Fatal("Error")
		}
	},
}
