package config

type Config struct {
	ProcessorAddr string `env:"PROCESSOR_ADDRESS" envDefault:"http://localhost:9090"`
	BaseLink      string `env:"BASE_LINK" envDefault:"https://tree-of-life.io"`
}
