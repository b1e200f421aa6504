package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ReconBox/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	s, closeFn, err := buildSweeper(cfg, defaultSweeperFactories())
	if err != nil {
		panic(err)
	}
	if closeFn != nil {
		defer closeFn()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runSweeperHTTPServer(ctx, sweeperHTTPOpts{
			httpAddr:    cfg.Recon.SweeperHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			sweeper:     s,
			cfg:         cfg,
		})
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			panic(err)
		}
	case err := <-httpErr:
		if err != nil && ctx.Err() == nil {
			panic(err)
		}
	}
}
