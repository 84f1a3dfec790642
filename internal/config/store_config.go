package config

import (
	"os"
	"path/filepath"
	"strconv"
)

type StoreConfig interface {
	GetStoreKind() string
	GetStoreDir() string
	GetStorePassphrase() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

const (
	StoreKindFile   = "file"
	StoreKindRedis  = "redis"
	StoreKindMemory = "memory"
)

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreKind() string {
	return GetEnv("STORE_KIND", StoreKindFile)
}

func (Store) GetStoreDir() string {
	if dir := os.Getenv("STORE_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(base, "ridesession")
}

func (Store) GetStorePassphrase() string {
	return GetEnv("STORE_PASSPHRASE", "")
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	db, err := strconv.Atoi(GetEnv("REDIS_DB", "0"))
	if err != nil {
		return 0
	}
	return db
}

func (Store) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "ridesession:")
}
