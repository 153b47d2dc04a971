package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	RegisterID            string
	RegisterIndex         int64
	Currency              string
	DataDir               string
	MaxSyncRetries        int
	CatalogRefreshSeconds int
	PromoCacheTTLSeconds  int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	registerIndex, err := strconv.ParseInt(getEnv("REGISTER_INDEX", "1"), 10, 64)
	if err != nil || registerIndex < 0 {
		registerIndex = 1
	}
	maxRetries, err := strconv.Atoi(getEnv("MAX_SYNC_RETRIES", "5"))
	if err != nil || maxRetries < 1 {
		maxRetries = 5
	}
	refresh, err := strconv.Atoi(getEnv("CATALOG_REFRESH_SECONDS", "30"))
	if err != nil || refresh < 5 {
		refresh = 30
	}
	promoTTL, err := strconv.Atoi(getEnv("PROMO_CACHE_TTL_SECONDS", "60"))
	if err != nil || promoTTL < 1 {
		promoTTL = 60
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8090"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("STORE_ID", "main-store"),
		RegisterID:            getEnv("REGISTER_ID", "register-1"),
		RegisterIndex:         registerIndex,
		Currency:              getEnv("CURRENCY", "GNF"),
		DataDir:               getEnv("DATA_DIR", "./data"),
		MaxSyncRetries:        maxRetries,
		CatalogRefreshSeconds: refresh,
		PromoCacheTTLSeconds:  promoTTL,
	}

	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
