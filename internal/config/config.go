// Package config loads server.json (or a path given via --config) into a
// Config, falling back to defaults for any missing or malformed key.
package config

import (
	"encoding/json"
	"os"
)

// Config is immutable after Load returns; pass it by reference into every
// component.
type Config struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	HTTPThreads    int    `json:"http_threads"`
	ChPoolSize     int    `json:"ch_pool_size"`
	QueueCapacity  int    `json:"queue_capacity"`
	WriteTimeoutMs int    `json:"write_timeout_ms"`

	ChHost     string `json:"ch_host"`
	ChPort     int    `json:"ch_port"`
	ChUser     string `json:"ch_user"`
	ChPassword string `json:"ch_password"`
	ChDatabase string `json:"ch_database"`
	ChTable    string `json:"ch_table"`

	RedisEnabled  bool   `json:"redis_enabled"`
	RedisHost     string `json:"redis_host"`
	RedisPort     int    `json:"redis_port"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	MetricsAddr string `json:"metrics_addr"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		HTTPThreads:    4,
		ChPoolSize:     4,
		QueueCapacity:  100000,
		WriteTimeoutMs: 200,

		ChHost:     "127.0.0.1",
		ChPort:     9000,
		ChUser:     "default",
		ChPassword: "",
		ChDatabase: "sensors",
		ChTable:    "metrics",

		RedisEnabled:  false,
		RedisHost:     "127.0.0.1",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		MetricsAddr: "",
	}
}

// Load reads path and overlays any recognised keys onto the defaults.
// A missing file or malformed JSON is not an error: it simply means no
// overrides are applied. This is deliberate (preserved from the original
// implementation) so a typo'd config never blocks startup.
func Load(path string) Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg
	}

	overlay(raw, "host", &cfg.Host)
	overlay(raw, "port", &cfg.Port)
	overlay(raw, "http_threads", &cfg.HTTPThreads)
	overlay(raw, "ch_pool_size", &cfg.ChPoolSize)
	overlay(raw, "queue_capacity", &cfg.QueueCapacity)
	overlay(raw, "write_timeout_ms", &cfg.WriteTimeoutMs)

	overlay(raw, "ch_host", &cfg.ChHost)
	overlay(raw, "ch_port", &cfg.ChPort)
	overlay(raw, "ch_user", &cfg.ChUser)
	overlay(raw, "ch_password", &cfg.ChPassword)
	overlay(raw, "ch_database", &cfg.ChDatabase)
	overlay(raw, "ch_table", &cfg.ChTable)

	overlay(raw, "redis_enabled", &cfg.RedisEnabled)
	overlay(raw, "redis_host", &cfg.RedisHost)
	overlay(raw, "redis_port", &cfg.RedisPort)
	overlay(raw, "redis_password", &cfg.RedisPassword)
	overlay(raw, "redis_db", &cfg.RedisDB)

	overlay(raw, "metrics_addr", &cfg.MetricsAddr)

	return cfg
}

// overlay unmarshals raw[key] into dst if present and well-typed; any
// failure leaves dst at its default, matching the "silently keep default
// on malformed key" contract.
func overlay[T any](raw map[string]json.RawMessage, key string, dst *T) {
	v, ok := raw[key]
	if !ok {
		return
	}
	var parsed T
	if err := json.Unmarshal(v, &parsed); err != nil {
		return
	}
	*dst = parsed
}
