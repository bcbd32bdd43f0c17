package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseDSN string
	RedisAddr   string
	RedisDB     int
	JWTSecret   string
	Env         string

	// TypingTimeout is how long a typing indicator lives without a refresh
	// before the server expires it on its own.
	TypingTimeout time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func Load() Config {
	typingMs, _ := strconv.Atoi(getenv("TYPING_TIMEOUT_MS", "1000"))
	if typingMs <= 0 {
		typingMs = 1000
	}
	redisDB, _ := strconv.Atoi(getenv("REDIS_DB", "0"))
	return Config{
		Port:          getenv("APP_PORT", "8080"),
		DatabaseDSN:   getenv("DATABASE_DSN", "host=localhost user=user password=password dbname=chatlinkdb port=5432 sslmode=disable"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisDB:       redisDB,
		JWTSecret:     getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:           getenv("APP_ENV", "dev"),
		TypingTimeout: time.Duration(typingMs) * time.Millisecond,
	}
}
