package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/paulschiretz/pgl-dedup/cmd"
	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
)

// run dispatches the parsed command and returns an error if something goes
// wrong, allowing main to handle exit codes.
func run(ctx context.Context) error {
	command, flagMap, err := flagparse.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	switch command {
	case flagparse.None:
		// Help was printed.
		return nil
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Cache:
		return cmd.RunCache(ctx, flagMap)
	case flagparse.Dedup:
		return cmd.RunDedup(ctx, flagMap)
	case flagparse.CrossDedup:
		return cmd.RunCrossDedup(ctx, flagMap)
	default:
		return errors.New("internal error: unknown command " + command.String())
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
