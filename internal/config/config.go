package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseURL string

	// APISecret signs both the storefront proxy query signature and the
	// customer session token.
	APISecret   string
	TokenLeeway time.Duration

	CORSOrigins []string
}

func Load() Config {
	return Config{
		AppEnv:   get("APP_ENV", "dev"),
		HTTPAddr: get("HTTP_ADDR", ":8080"),
		LogLevel: get("LOG_LEVEL", "info"),

		DatabaseURL: get("DATABASE_URL", ""),

		APISecret:   get("SHOPIFY_API_SECRET", ""),
		TokenLeeway: time.Duration(getInt("TOKEN_LEEWAY_SECONDS", 5)) * time.Second,

		CORSOrigins: getList("CORS_ORIGINS", "*"),
	}
}

func get(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getList(k, def string) []string {
	v := get(k, def)
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
