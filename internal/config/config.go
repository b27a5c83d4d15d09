// Package config loads the delay pipeline's process-wide configuration
// from the environment, following the same getenv/getint/getduration
// idiom used throughout this codebase's ambient stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/citygrid/h3delay/internal/model"
)

// Config is the full deployment configuration: the DelayCfg subset
// consumed by the core pipeline (spec §6) plus the surrounding service
// knobs (addresses, credentials, sink selection).
type Config struct {
	Addr     string
	LogLevel string

	RedisAddr     string
	KafkaBrokers  string
	KafkaTopic    string
	KafkaGroupID  string

	TomTomAPIKey  string
	TomTomTimeout time.Duration

	JSONLPath string

	EntityUpsertURL    string
	EntityUpsertTenant string
	EntityUpsertToken  string
	EntityUpsertPrefix string

	ProviderCacheSize int

	Delay model.DelayCfg
}

// FromEnv builds a Config from the environment, applying the teacher's
// defaults idiom. It does not call Validate — callers decide when
// configuration errors (spec §7) should be surfaced.
func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8091"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: getenv("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:   getenv("KAFKA_OD_TOPIC", "od.ready"),
		KafkaGroupID: getenv("KAFKA_GROUP_ID", "h3delay-dayrunner"),

		TomTomAPIKey:  getenv("TOMTOM_API_KEY", ""),
		TomTomTimeout: getduration("TOMTOM_TIMEOUT", 8*time.Second),

		JSONLPath: getenv("HISTORY_JSONL_PATH", ""),

		EntityUpsertURL:    getenv("HISTORY_UPSERT_URL", ""),
		EntityUpsertTenant: getenv("HISTORY_UPSERT_TENANT", ""),
		EntityUpsertToken:  getenv("HISTORY_UPSERT_TOKEN", ""),
		EntityUpsertPrefix: getenv("HISTORY_ENTITY_PREFIX", "urn:h3delay"),

		ProviderCacheSize: getint("PROVIDER_CACHE_SIZE", 4096),

		Delay: model.DelayCfg{
			Res:         getint("H3_RES", 7),
			TruckFactor: getfloat32("TRUCK_FACTOR", 1.4),
			CarFactor:   getfloat32("CAR_FACTOR", 1.0),

			BPRa:       getfloat32("BPR_A", 0.15),
			BPRb:       getfloat32("BPR_B", 4.0),
			TruckGamma: getfloat32("TRUCK_GAMMA", 0.4),

			CapacityPercentile: getfloat32("CAPACITY_PERCENTILE", 0.9),
			CapacityFloor:      getfloat32("CAPACITY_FLOOR", 10.0),
			VCCap:              getfloat32("VC_CAP", 2.0),

			DelayMin: getfloat32("DELAY_MIN", 1.0),
			DelayMax: getfloat32("DELAY_MAX", 0), // no default; see Validate

			MinConfForPureOrange: getfloat32("MIN_CONF_FOR_PURE_ORANGE", 0.65),
			MaxConcurrentCalls:   getint("MAX_CONCURRENT_CALLS", 16),

			ShowEps: getfloat32("SHOW_EPS", 0.03),
		},
	}
}

// Validate enforces the configuration-error class of spec §7 at call
// entry, before any pipeline work starts.
func (c Config) Validate() error {
	if err := c.Delay.Validate(); err != nil {
		return err
	}
	if c.TomTomAPIKey != "" && c.TomTomTimeout <= 0 {
		return fmt.Errorf("config: tomtom_timeout must be positive when a provider key is set")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat32(k string, def float32) float32 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
