package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatshop/chatshop/config"
	"github.com/chatshop/chatshop/internal/app"
	"github.com/chatshop/chatshop/internal/webserver"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("c", "/etc/chatshop.yml", "config file path")
	initDB     = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	showVer    = flag.Bool("v", false, "print version and exit")
)

var version = "dev"

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("chatshopd", version)
		return
	}

	cfg := config.LoadConfig(*configFile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDB {
		application.DropAll()
		if err := application.MigrateDB(); err != nil {
			zap.S().Fatalf("initdb failed: %v", err)
		}
		zap.L().Info("database initialized")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application.StartBackgroundJobs(ctx)

	server := webserver.NewServer(cfg, application.DB(), application.Engine(),
		application.Deposit(), application.Bridge())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		zap.L().Info("shutting down", zap.String("signal", s.String()))
		cancel()
	case err := <-errCh:
		if err != nil {
			zap.L().Error("webserver stopped", zap.Error(err))
		}
	}
}
