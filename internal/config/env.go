package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvPort          = "PORT"
	EnvURLEndpoint   = "PHISHGUARD_URL_ENDPOINT"
	EnvHTMLEndpoint  = "PHISHGUARD_HTML_ENDPOINT"
	EnvDOMEndpoint   = "PHISHGUARD_DOM_ENDPOINT"
	EnvRedisAddress  = "PHISHGUARD_REDIS_ADDR"
	EnvRedisPassword = "PHISHGUARD_REDIS_PASSWORD"
	EnvRedisDB       = "PHISHGUARD_REDIS_DB"
	EnvDBDir         = "PHISHGUARD_DB_DIR"
	EnvDevice        = "PHISHGUARD_DEVICE"
	EnvTorProxy      = "PHISHGUARD_TOR_PROXY"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped and existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays the PORT and PHISHGUARD_* variables onto cfg.
// A set PORT means serve listens on all interfaces at that port.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv(EnvPort); port != "" {
		cfg.ListenAddress = ":" + port
	}
	setString(&cfg.URLEndpoint, os.Getenv(EnvURLEndpoint))
	setString(&cfg.HTMLEndpoint, os.Getenv(EnvHTMLEndpoint))
	setString(&cfg.DOMEndpoint, os.Getenv(EnvDOMEndpoint))
	setString(&cfg.RedisAddress, os.Getenv(EnvRedisAddress))
	setString(&cfg.RedisPassword, os.Getenv(EnvRedisPassword))
	if db, err := strconv.Atoi(os.Getenv(EnvRedisDB)); err == nil {
		cfg.RedisDB = db
	}
	setString(&cfg.DBDir, os.Getenv(EnvDBDir))
	setString(&cfg.Device, os.Getenv(EnvDevice))
	setString(&cfg.TorProxyAddress, os.Getenv(EnvTorProxy))
}
