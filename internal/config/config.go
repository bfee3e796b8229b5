package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Addr            string
	DatabaseURL     string
	KafkaBrokers    []string
	KafkaTopic      string
	ArchiveBucket   string
	ArchivePrefix   string
	AuthSecret      string
	AllowAnon       bool
	MaxAlternatives int
	BatchWorkers    int
}

const (
	defaultAddr            = ":8071"
	defaultKafkaTopic      = "mailroom.run-completed"
	defaultMaxAlternatives = 2
	defaultBatchWorkers    = 4
)

func Load() (Config, error) {
	cfg := Config{
		Addr:            getEnv("MAILROOM_ADDR", defaultAddr),
		DatabaseURL:     firstNonEmpty(os.Getenv("MAILROOM_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:    parseCSV(os.Getenv("MAILROOM_KAFKA_BROKERS")),
		KafkaTopic:      getEnv("MAILROOM_KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket:   os.Getenv("MAILROOM_ARCHIVE_BUCKET"),
		ArchivePrefix:   os.Getenv("MAILROOM_ARCHIVE_PREFIX"),
		AuthSecret:      os.Getenv("MAILROOM_AUTH_SECRET"),
		AllowAnon:       getBool("MAILROOM_ALLOW_ANON", false),
		MaxAlternatives: getInt("MAILROOM_MAX_ALTERNATIVES", defaultMaxAlternatives),
		BatchWorkers:    getInt("MAILROOM_BATCH_WORKERS", defaultBatchWorkers),
	}
	if cfg.AuthSecret == "" && !cfg.AllowAnon {
		return Config{}, fmt.Errorf("MAILROOM_AUTH_SECRET required unless MAILROOM_ALLOW_ANON=true")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
