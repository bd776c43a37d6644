// Package main implements the keydir client tool: insert a key mapping or
// look one up through any worker in the cluster.
//
// The client binds its own UDP endpoint so that the answering worker,
// which may not be the worker it contacted if the request was forwarded,
// can reply to it directly. Requests ride a one-shot do-list item that
// re-sends them on a back-off schedule until the reply lands.
//
// Usage:
//
//	client insert <key> <chunk> <subchunk>
//	client lookup <key>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/keydir/internal/central"
	"github.com/dreamware/keydir/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "client",
		Short:         "keydir client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.BindClientFlags(root.PersistentFlags())
	root.PersistentFlags().Duration("timeout", 20*time.Second, "how long to keep retrying")

	root.AddCommand(&cobra.Command{
		Use:   "insert <key> <chunk> <subchunk>",
		Short: "store key -> (chunk, subchunk)",
		Args:  cobra.ExactArgs(3),
		RunE:  runInsert,
	})
	root.AddCommand(&cobra.Command{
		Use:   "lookup <key>",
		Short: "resolve key to its (chunk, subchunk)",
		Args:  cobra.ExactArgs(1),
		RunE:  runLookup,
	})
	root.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "show master stats",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// start builds the client core and runs its loops in the background,
// returning the client, a request context, and a shutdown func.
func start(cmd *cobra.Command) (*central.Client, context.Context, func(), error) {
	cfg, err := config.LoadClient(cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, nil, err
	}

	c, err := central.NewClient(central.Options{
		Log:    log.Named("client"),
		Self:   cfg.Self(),
		Master: cfg.Master(),
	}, cfg.Worker())
	if err != nil {
		return nil, nil, nil, err
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() { _ = c.Run(runCtx) }()

	reqCtx, reqCancel := context.WithTimeout(runCtx, timeout)
	stop := func() {
		reqCancel()
		cancel()
		_ = log.Sync()
	}
	return c, reqCtx, stop, nil
}

func runInsert(cmd *cobra.Command, args []string) error {
	key := args[0]
	chunk, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}
	subchunk, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("subchunk: %w", err)
	}

	c, ctx, stop, err := start(cmd)
	if err != nil {
		return err
	}
	defer stop()

	if err := c.KeyInsert(ctx, key, int32(chunk), int32(subchunk)); err != nil {
		return err
	}
	fmt.Printf("inserted %s -> (%d, %d)\n", key, chunk, subchunk)
	return nil
}

func runLookup(cmd *cobra.Command, args []string) error {
	key := args[0]

	c, ctx, stop, err := start(cmd)
	if err != nil {
		return err
	}
	defer stop()

	cs, found, err := c.KeyLookup(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("%s not found\n", key)
		return nil
	}
	fmt.Printf("%s -> (%d, %d)\n", key, cs.Chunk, cs.Subchunk)
	return nil
}

func runInfo(cmd *cobra.Command, _ []string) error {
	c, ctx, stop, err := start(cmd)
	if err != nil {
		return err
	}
	defer stop()

	stats, err := c.MasterInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("workers=%d uptime=%ds errors=%d\n", stats.WorkerCount, stats.UptimeSec, stats.ErrCount)
	return nil
}
