package config

type Config struct {
	TokenSecret string `env:"TOKEN_SECRET" envDefault:"affiliate-token-secret"`
}
