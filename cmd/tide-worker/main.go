package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"go.uber.org/fx"

	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// embeddedConfig holds the application YAML.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Draining in-flight deliveries...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	options, err := GetApplicationOptions(ctx, envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to build application: %v", err)
	}

	fxApp := fx.New(options...)
	fxApp.Run()
	if fxApp.Err() != nil {
		logger.Fatalf("Application run failed: %v", fxApp.Err())
	}
	os.Exit(0)
}
