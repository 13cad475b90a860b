package main

import (
	"fmt"

	"github.com/joeshaw/envdecode"
)

// config is the full process configuration, loaded from the environment.
type config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`
	RedisAddr  string `env:"REDIS_ADDR,default=localhost:6379"`

	// Token validation and minting share one HMAC key between the auth and
	// oauth packages.
	JWTSigningKey string `env:"JWT_SIGNING_KEY,required"`
	JWTIssuer     string `env:"JWT_ISSUER,default=https://mcp.cgk.dev"`
	JWTAudience   string `env:"JWT_AUDIENCE,default=mcp-gateway"`

	// AllowedOrigins is a comma-separated CORS allow-list.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=*"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	// DemoTenant, when set, seeds a tenant config with every category enabled
	// on startup. Development only.
	DemoTenant string `env:"DEMO_TENANT"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}
