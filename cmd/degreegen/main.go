package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/you-humble/degreegen/internal/app"
)

const defaultConfigPath = "./configs/local.yaml"

func main() {
	cfgPath := flag.String("config", configPath(), "path to the YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	a := app.New(ctx, *cfgPath)
	if err := a.Run(ctx); err != nil {
		panic(err)
	}
}

func configPath() string {
	if p := os.Getenv("DEGREEGEN_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}
