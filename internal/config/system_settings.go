package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DATABASE_TYPE = "REGUA_DATABASE_TYPE"
const DATABASE_URL = "REGUA_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "REGUA_DATABASE_SQLLITE_FILE_NAME"
const SERVER_WEB_PORT = "REGUA_SERVER_WEB_PORT"
const LOG_LEVEL = "REGUA_LOG_LEVEL"

// node visits allowed per invocation
const ENGINE_MAX_STEPS = "REGUA_ENGINE_MAX_STEPS"

// cron spec for polling waiting executions
const RESUME_SCHEDULE = "REGUA_RESUME_SCHEDULE"

// number of due executions to claim per poll
const RESUME_BATCH_SIZE = "REGUA_RESUME_BATCH_SIZE"
const RESUME_WORKERS = "REGUA_RESUME_WORKERS"

// cron spec for the repair job
const STUCK_EXECUTIONS_SCHEDULE = "REGUA_STUCK_EXECUTIONS_SCHEDULE"
const STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES = "REGUA_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES"
const BATCH_CONCURRENCY = "REGUA_BATCH_CONCURRENCY"
const SENDER_TIMEOUT = "REGUA_SENDER_TIMEOUT"

// comma separated bcrypt hashes, empty disables the check
const API_KEY_HASHES = "REGUA_API_KEY_HASHES"

// "", "stdout" or "otlp"
const TRACING_EXPORTER = "REGUA_TRACING_EXPORTER"
const OTLP_ENDPOINT = "REGUA_OTLP_ENDPOINT"
const OTLP_INSECURE = "REGUA_OTLP_INSECURE"
const SERVICE_NAME = "REGUA_SERVICE_NAME"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

var (
	mu sync.RWMutex
	v  = newViper()
)

var defaults = map[string]string{
	SERVER_WEB_PORT:                       "8080",
	LOG_LEVEL:                             "info",
	ENGINE_MAX_STEPS:                      "50",
	RESUME_SCHEDULE:                       "@every 30s",
	RESUME_BATCH_SIZE:                     "20",
	RESUME_WORKERS:                        "5",
	STUCK_EXECUTIONS_SCHEDULE:             "@every 1m",
	STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES: "10",
	BATCH_CONCURRENCY:                     "8",
	SENDER_TIMEOUT:                        "20s",
	DATABASE_SQLLITE_FILE_NAME:            "./reguaflow.db",
	OTLP_ENDPOINT:                         "localhost:4318",
	OTLP_INSECURE:                         "true",
	SERVICE_NAME:                          "reguaflow",
}

func newViper() *viper.Viper {
	nv := viper.New()
	nv.AutomaticEnv()
	for k, d := range defaults {
		nv.SetDefault(k, d)
	}
	return nv
}

// Load reads an optional .env file and an optional YAML config file. Environment
// variables always win over file values. Keys in the file use the env names,
// with or without the REGUA_ prefix, case-insensitive.
func Load(configFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	nv := newViper()
	if configFile != "" {
		nv.SetConfigFile(configFile)
		if err := nv.ReadInConfig(); err != nil {
			return err
		}
		for _, key := range nv.AllKeys() {
			upper := strings.ToUpper(key)
			if !strings.HasPrefix(upper, "REGUA_") {
				nv.SetDefault("REGUA_"+upper, nv.Get(key))
			}
		}
	}

	mu.Lock()
	v = nv
	mu.Unlock()
	return nil
}

// Set overrides a setting at runtime, mainly for tests and CLI flags.
func Set(settingKey string, value string) {
	mu.Lock()
	defer mu.Unlock()
	v.Set(settingKey, value)
}

func GetSystemSettingInteger(settingKey string) int {
	mu.RLock()
	defer mu.RUnlock()
	return v.GetInt(settingKey)
}

func GetSystemSettingString(settingKey string) string {
	mu.RLock()
	defer mu.RUnlock()
	return v.GetString(settingKey)
}

func GetSystemSettingBool(settingKey string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return v.GetBool(settingKey)
}

// GetSystemSettingDuration parses Go duration strings ("20s", "5m"); invalid values yield 0.
func GetSystemSettingDuration(settingKey string) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return v.GetDuration(settingKey)
}

func GetSystemSettingList(settingKey string) []string {
	raw := GetSystemSettingString(settingKey)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
