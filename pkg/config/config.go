package config

import (
	"errors"
	"log/slog"

	"github.com/spf13/viper"
)

type Config struct {
	Server   Server
	Postgres Postgres
	Scylla   Scylla
	Redis    Redis
	Kafka    Kafka
	JWT      JWT
	Push     Push
}

type Server struct {
	Port        string
	Environment string
}

type Postgres struct {
	DSN string
}

type Scylla struct {
	Hosts    []string
	Keyspace string
}

type Redis struct {
	Addr string
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type JWT struct {
	Secret    string
	ExpiredIn int
}

type Push struct {
	Endpoint  string
	ServerKey string
}

func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, errors.New("config file not found")
		}
		return nil, err
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	err := v.Unmarshal(&c)
	if err != nil {
		slog.Error("Unable to unmarshal config", "err", err)
		return nil, err
	}
	return &c, nil
}
