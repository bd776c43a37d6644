// Package main implements a keydir worker, the process that owns a
// contiguous string range of the keyspace and answers key insert and
// lookup requests, forwarding anything outside its range to the owner.
//
// On startup the worker registers with the master through its do-list and
// keeps re-sending the registration until the master's directory push
// reveals its assigned name. The first worker registered receives the
// all-inclusive range.
//
// Configuration (flags, or KEYDIR_-prefixed environment):
//   - --host / --port: bind/advertise endpoint (default 127.0.0.1:10043)
//   - --master-host / --master-port: master endpoint (default 127.0.0.1:10042)
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
		Use:           "worker",
		Short:         "keydir range-owning worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	config.BindWorkerFlags(cmd.Flags())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWorker(cmd.Flags())
	if err != nil {
		return err
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	w, err := central.NewWorker(central.Options{
		Log:    log.Named("worker"),
		Self:   cfg.Self(),
		Master: cfg.Master(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker listening",
		zap.Stringer("addr", cfg.Self()), zap.Stringer("master", cfg.Master()))
	err = w.Run(ctx)
	log.Info("worker stopped")
	return err
}
