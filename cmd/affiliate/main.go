package main

import (
	"log"

	"github.com/treeoflife/affiliate/internal/auth"
	"github.com/treeoflife/affiliate/internal/config"
	"github.com/treeoflife/affiliate/internal/handler"
	"github.com/treeoflife/affiliate/internal/logger"
	"github.com/treeoflife/affiliate/internal/program"
	"github.com/treeoflife/affiliate/internal/service"
	"github.com/treeoflife/affiliate/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}

	service, err := service.NewService(cfg.Service, store, program.Default(), zaplog)
	if err != nil {
		return err
	}
	auth := auth.NewAuth(service, cfg.Auth)

	return handler.Serve(cfg.Handler, auth, service, zaplog)
}
