// Package main implements the keydir master, the cluster controller that
// registers workers, assigns their numeric names, seeds the first worker's
// all-inclusive range, and pushes the worker list to every worker.
//
// The master holds the only authoritative copy of the directory. It keeps
// no persistent state: restarting it restarts name allocation with an empty
// directory. A worker registers only until it learns its name; workers
// already named before the restart do not register again.
//
// Configuration (flags, or KEYDIR_-prefixed environment):
//   - --host: bind/advertise host (default 127.0.0.1)
//   - --port: UDP port (default 10042)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/keydir/internal/central"
	"github.com/dreamware/keydir/internal/config"
)

func main() {
	cmd := &cobra.Command{
		Use:           "master",
		Short:         "keydir cluster master",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	config.BindMasterFlags(cmd.Flags())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadMaster(cmd.Flags())
	if err != nil {
		return err
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	m, err := central.NewMaster(central.Options{
		Log:  log.Named("master"),
		Self: cfg.Self(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("master listening", zap.Stringer("addr", cfg.Self()))
	err = m.Run(ctx)
	log.Info("master stopped")
	return err
}
