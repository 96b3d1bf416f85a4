// Package config loads simulator settings from a JSON config file with
// sensible defaults for every key.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig holds tick-loop and motion settings.
type EngineConfig struct {
	TickHz   float64 `json:"tickHz" mapstructure:"tickHz"`
	Speed    float64 `json:"speed" mapstructure:"speed"`
	TurnRate float64 `json:"turnRate" mapstructure:"turnRate"`
}

// WorldConfig holds sensor and obstacle settings.
type WorldConfig struct {
	SensorRange     float64 `json:"sensorRange" mapstructure:"sensorRange"`
	ConeHalfAngle   float64 `json:"coneHalfAngle" mapstructure:"coneHalfAngle"`
	NoiseAmplitude  float64 `json:"noiseAmplitude" mapstructure:"noiseAmplitude"`
	CollisionRadius float64 `json:"collisionRadius" mapstructure:"collisionRadius"`
	Seed            int64   `json:"seed" mapstructure:"seed"`
	Generate        bool    `json:"generate" mapstructure:"generate"`
}

// MemoryConfig holds in-memory/JSON storage backend settings.
type MemoryConfig struct {
	OutputDir string `json:"outputDir" mapstructure:"outputDir"`
}

// SqliteConfig holds SQLite storage backend settings.
type SqliteConfig struct {
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds Postgres storage backend settings.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	Sqlite   SqliteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// Load reads configuration from a JSON file in configDir after applying
// defaults. A missing file is not an error; defaults apply.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("debugMode", false)

	viper.SetDefault("engine.tickHz", 60.0)
	viper.SetDefault("engine.speed", 5.0)
	viper.SetDefault("engine.turnRate", 90.0)

	viper.SetDefault("world.sensorRange", 20.0)
	viper.SetDefault("world.coneHalfAngle", 30.0)
	viper.SetDefault("world.noiseAmplitude", 0.2)
	viper.SetDefault("world.collisionRadius", 1.0)
	viper.SetDefault("world.seed", 0)
	viper.SetDefault("world.generate", true)
	viper.SetDefault("world.obstacles", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./runs")
	viper.SetDefault("storage.sqlite.dumpPath", "./runs/obocar.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "30s")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "obocar")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "localhost:8420")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "obocar-metrics")
	viper.SetDefault("influx.bucket", "vehicle_state")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "obocar-engine")
	viper.SetDefault("otel.endpoint", "")

	viper.SetDefault("geo.origin.longitude", 0.0)
	viper.SetDefault("geo.origin.latitude", 0.0)

	viper.SetConfigName("obocar.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Engine returns the tick-loop and motion settings.
func Engine() EngineConfig {
	return EngineConfig{
		TickHz:   viper.GetFloat64("engine.tickHz"),
		Speed:    viper.GetFloat64("engine.speed"),
		TurnRate: viper.GetFloat64("engine.turnRate"),
	}
}

// World returns the sensor and obstacle settings.
func World() WorldConfig {
	return WorldConfig{
		SensorRange:     viper.GetFloat64("world.sensorRange"),
		ConeHalfAngle:   viper.GetFloat64("world.coneHalfAngle"),
		NoiseAmplitude:  viper.GetFloat64("world.noiseAmplitude"),
		CollisionRadius: viper.GetFloat64("world.collisionRadius"),
		Seed:            viper.GetInt64("world.seed"),
		Generate:        viper.GetBool("world.generate"),
	}
}

// Storage returns the storage backend selection and settings.
func Storage() StorageConfig {
	return StorageConfig{
		Type:   viper.GetString("storage.type"),
		Memory: MemoryConfig{OutputDir: viper.GetString("storage.memory.outputDir")},
		Sqlite: SqliteConfig{
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetFloat64 returns a float64 config value.
func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
