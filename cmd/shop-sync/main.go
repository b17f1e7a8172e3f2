package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ShopTrack/config"
	"github.com/pkg/errors"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "shop-sync")
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunShopSync(ctx, cfg, defaultAppFactories(), runOpts{}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shop-sync stopped", "error", err.Error())
		cancel()
		os.Exit(1)
	}
}
