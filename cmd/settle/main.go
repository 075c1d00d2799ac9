/*
main.go - Command-line entry point

PURPOSE:
  Replays a CSV file of transaction records through the settlement engine
  and prints the resulting accounts, or serves them over HTTP.

USAGE:
  settle [global flags] FILE          print the account report to stdout
  settle [global flags] serve FILE    replay, then serve the read-only API

EXIT STATUS:
  0  success
  1  bad usage, unreadable input, or a fatal ledger failure
  2  report written, but some account total overflowed

EXAMPLES:
  settle transactions.csv > accounts.csv
  settle --db=replay.db --log-level=info transactions.csv
  settle serve --addr=:3000 transactions.csv

SEE ALSO:
  - config/config.go: Flags and environment variables
  - replay.go: Replay wiring
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/report"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero"

func main() {
	app := cli.NewApp()
	app.Name = "settle"
	app.Usage = "replay transaction records into client account balances"
	app.ArgsUsage = "FILE"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = config.Flags()
	app.Action = runReport
	app.Commands = []cli.Command{
		{
			Name:      "serve",
			Usage:     "replay FILE, then serve the accounts over HTTP",
			ArgsUsage: "FILE",
			Flags:     config.ServeFlags(),
			Action:    runServe,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "settle: %v\n", err)
		var coder cli.ExitCoder
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func setup(c *cli.Context) (config.Config, *zap.Logger, string, error) {
	cfg, err := config.FromContext(c)
	if err != nil {
		return cfg, nil, "", err
	}
	path := c.Args().First()
	if path == "" {
		return cfg, nil, "", fmt.Errorf("missing input FILE")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return cfg, nil, "", err
	}
	return cfg, logger, path, nil
}

func runReport(c *cli.Context) error {
	cfg, logger, path, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, err := replayFile(context.Background(), cfg, logger, path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	err = report.Write(c.App.Writer, s.engine.Ledger().Snapshot())
	var overflow *report.OverflowError
	if errors.As(err, &overflow) {
		logger.Error("account totals overflow", zap.Any("clients", overflow.Clients))
		return cli.NewExitError(err.Error(), 2)
	}
	return err
}

func runServe(c *cli.Context) error {
	cfg, logger, path, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := replayFile(ctx, cfg, logger, path, true)
	if err != nil {
		return err
	}
	defer s.Close()

	handler := api.NewHandler(s.engine, s.journal, logger)
	handler.Malformed = s.malformed

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
