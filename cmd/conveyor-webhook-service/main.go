// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/lib/pipeline"
	"github.com/conveyor-ci/conveyor/lib/process"
	"github.com/conveyor-ci/conveyor/lib/service"
	"github.com/conveyor-ci/conveyor/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		verbose     bool
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the service configuration file")
	pflag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("conveyor-webhook-service %s\n", version.Full())
		return nil
	}
	if configPath == "" {
		return errors.New("--config is required")
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := service.NewLogger(level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secret, err := readWebhookSecret(config.WebhookSecretFile)
	if err != nil {
		return err
	}

	pipelines, err := loadPipelines(config.Pipelines)
	if err != nil {
		return err
	}

	dispatcher, err := NewDispatcher(ctx, DispatcherConfig{
		Pipelines:      pipelines,
		IdentityPath:   config.Identity,
		InstallCommand: config.InstallCommand,
		HistoryPath:    config.History,
		LogStoreDir:    config.LogStore,
		RecentRuns:     config.RecentRuns,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	webhookHandler := NewWebhookHandler(secret, logger, dispatcher.HandleEvent)

	mux := http.NewServeMux()
	mux.Handle("POST /hooks/{provider}", webhookHandler)
	mux.HandleFunc("GET /healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
	})

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address: config.Listen,
		Handler: mux,
		Logger:  logger,
	})

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.Serve(ctx)
	}()

	select {
	case <-httpServer.Ready():
	case err := <-httpDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	var socketDone chan error
	if config.Socket != "" {
		socketServer := service.NewSocketServer(config.Socket, logger)
		dispatcher.RegisterActions(socketServer)

		socketDone = make(chan error, 1)
		go func() {
			socketDone <- socketServer.Serve(ctx)
		}()

		select {
		case <-socketServer.Ready():
		case err := <-socketDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Info("webhook service running",
		"address", httpServer.Addr().String(),
		"socket", config.Socket,
		"pipelines", len(pipelines),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Context cancellation has already cancelled in-flight runs; wait
	// for them to conclude and be recorded before closing stores.
	dispatcher.Wait()

	if err := <-httpDone; err != nil {
		logger.Error("http server error", "error", err)
	}
	if socketDone != nil {
		if err := <-socketDone; err != nil {
			logger.Error("socket server error", "error", err)
		}
	}

	return nil
}

// readWebhookSecret reads the HMAC secret file. Trailing whitespace
// is trimmed so a newline added by an editor doesn't break signature
// verification.
func readWebhookSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading webhook secret: %w", err)
	}
	secret := []byte(strings.TrimSpace(string(data)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("webhook secret file %s is empty", path)
	}
	return secret, nil
}

// loadPipelines parses and validates every configured definition.
// Any invalid definition fails startup: a service quietly skipping a
// broken pipeline would look healthy while never running it.
func loadPipelines(paths []string) ([]loadedPipeline, error) {
	pipelines := make([]loadedPipeline, 0, len(paths))
	for _, path := range paths {
		content, err := pipeline.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if issues := content.Validate(); len(issues) > 0 {
			return nil, fmt.Errorf("invalid pipeline %s:\n  %s", path, strings.Join(issues, "\n  "))
		}
		pipelines = append(pipelines, loadedPipeline{path: path, content: content})
	}
	return pipelines, nil
}
