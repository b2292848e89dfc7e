package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	authConfig "github.com/treeoflife/affiliate/internal/auth/config"
	handlerConfig "github.com/treeoflife/affiliate/internal/handler/config"
	loggerConfig "github.com/treeoflife/affiliate/internal/logger/config"
	serviceConfig "github.com/treeoflife/affiliate/internal/service/config"
	storeConfig "github.com/treeoflife/affiliate/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config
	Service serviceConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
	Auth    authConfig.Config
}

func GetConfig() (Config, error) {
	// .env для локального запуска, на проде переменные окружения
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
