package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wojas/go-healthz"
	"golang.org/x/sync/errgroup"

	"github.com/ALU-Schumacher/AUDITOR-sub000/collector"
	"github.com/ALU-Schumacher/AUDITOR-sub000/collector/sources/jsonfile"
	"github.com/ALU-Schumacher/AUDITOR-sub000/config"
	"github.com/ALU-Schumacher/AUDITOR-sub000/status"
)

var onlyOnce bool

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().BoolVar(&onlyOnce, "only-once", false,
		"Collect once, drain the queue and exit")
}

func newSource(c config.Collector) (collector.Source, error) {
	switch c.Source.Type {
	case "jsonfile":
		return jsonfile.New(c.Source.Path), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", c.Source.Type)
	}
}

func runCollect() error {
	if len(conf.Collectors) == 0 {
		return errors.New("no collectors configured")
	}

	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	var cols []*collector.Collector
	for name, cc := range conf.Collectors {
		src, err := newSource(cc)
		if err != nil {
			return err
		}
		col, err := collector.New(name, cc, src)
		if err != nil {
			return err
		}
		defer col.Close()
		cols = append(cols, col)
	}

	healthz.AddBuildInfo()
	if hostname, err := os.Hostname(); err == nil {
		healthz.SetMeta("hostname", hostname)
	}
	healthz.SetMeta("version", version)

	if onlyOnce {
		logrus.Info("Not starting the HTTP server, because --only-once is set")
		for _, col := range cols {
			if err := col.RunOnce(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	status.StartHTTPServer(conf)

	eg, ctx := errgroup.WithContext(ctx)
	for _, col := range cols {
		col := col
		eg.Go(func() error {
			return col.Run(ctx)
		})
	}
	logrus.Info("All collectors running")
	return eg.Wait()
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the configured collectors",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCollect(); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Fatal("Error")
		}
	},
}
