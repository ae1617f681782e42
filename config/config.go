package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once in main and handed to whoever needs it.
type Config struct {
	ServerAddr      string
	AllowedOrigins  []string
	DisconnectGrace time.Duration
	TimeLimit       time.Duration
	Debug           bool
}

func Load() (Config, error) {
	// A missing .env is fine in production, envs come from the runtime there.
	godotenv.Load()

	cfg := Config{
		ServerAddr:      ":5000",
		DisconnectGrace: 2 * time.Minute,
		TimeLimit:       60 * time.Minute,
	}

	if addr, ok := os.LookupEnv("SERVER_ADDR"); ok {
		cfg.ServerAddr = addr
	}

	if origins, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if grace, ok := os.LookupEnv("DISCONNECT_GRACE"); ok {
		d, err := time.ParseDuration(grace)
		if err != nil {
			return Config{}, err
		}
		cfg.DisconnectGrace = d
	}

	if limit, ok := os.LookupEnv("TIME_LIMIT"); ok {
		d, err := time.ParseDuration(limit)
		if err != nil {
			return Config{}, err
		}
		cfg.TimeLimit = d
	}

	cfg.Debug = os.Getenv("DEBUG") == "true"

	return cfg, nil
}
