package config

type Config struct {
	ServerAddr string `env:"RUN_ADDRESS" envDefault:":8080"`
}
