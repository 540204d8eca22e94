package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DeepStacker/email-service/internal/app/config"
	"github.com/DeepStacker/email-service/internal/app/gateway"
	"github.com/DeepStacker/email-service/internal/pkg/logger"
)

var (
	configFilepath = flag.String("config", "./config.yaml", "Filepath to configuration file. Default is './config.yaml'")
	envFilepath    = flag.String("env-file", "./.env", "Filepath to environment variables file. Default is '.env'")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configFilepath, *envFilepath)
	if err != nil {
		log.Fatalf(fmt.Sprintf("failed to load configuration: %s", err))
	}

	slogger := slog.New(logger.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       slog.Level(cfg.LogLevel),
		ReplaceAttr: logger.ReplaceAttr,
	})))

	gw, err := gateway.New(cfg, slogger)
	if err != nil {
		log.Fatalf(fmt.Sprintf("failed to construct gateway: %s", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGABRT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	ctx = logger.WithAttrs(ctx, slog.String("account", cfg.Login))

	state := gw.TestConnections(ctx)
	slogger.InfoContext(ctx, "startup connection self-test",
		slog.Bool("smtp", state.SMTP),
		slog.Bool("imap", state.IMAP),
	)
	if !state.SMTP || !state.IMAP {
		slogger.ErrorContext(ctx, "gateway is not fully operational, check credentials and server settings")
		cancel()
		//nolint:gocritic
		os.Exit(1)
	}

	slogger.InfoContext(ctx, "gateway ready")
	<-ctx.Done()

	if err = gw.Close(); err != nil {
		slogger.Error("mailbox session teardown failed", slog.Any("error", err))
	}
}
