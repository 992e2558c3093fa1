package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the file Load looks for in the config directory.
const ConfigFileName = "worldserver.cfg.json"

// WorldConfig identifies the world and its generation seed.
type WorldConfig struct {
	ID        string `json:"id" mapstructure:"id"`
	Seed      int64  `json:"seed" mapstructure:"seed"`
	ChunkSize int    `json:"chunkSize" mapstructure:"chunkSize"`
	CellSize  int    `json:"cellSize" mapstructure:"cellSize"`
}

// GenerationConfig tunes vein placement.
type GenerationConfig struct {
	BaseProbability  float64 `json:"baseProbability" mapstructure:"baseProbability"`
	DensityThreshold float64 `json:"densityThreshold" mapstructure:"densityThreshold"`
	MinSeparation    float64 `json:"minSeparation" mapstructure:"minSeparation"`
}

// CacheConfig holds hot cache settings
type CacheConfig struct {
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	MaxEntries    int           `json:"maxEntries" mapstructure:"maxEntries"`
	SweepInterval time.Duration `json:"sweepInterval" mapstructure:"sweepInterval"`
}

// SqliteConfig holds SQLite storage backend settings
type SqliteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig is the db.* section used by the postgres backend.
type PostgresConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         string `json:"port" mapstructure:"port"`
	Username     string `json:"username" mapstructure:"username"`
	Password     string `json:"password" mapstructure:"password"`
	Database     string `json:"database" mapstructure:"database"`
	SSLMode      string `json:"sslMode" mapstructure:"sslMode"`
	MaxOpenConns int    `json:"maxOpenConns" mapstructure:"maxOpenConns"`
}

// DSN renders the keyword/value connection string understood by pgx.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode)
}

// StorageConfig selects the cold tier and spatial store backend
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Sqlite   SqliteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"db" mapstructure:"db"`
}

// BackfillConfig bounds lazy vein persistence.
type BackfillConfig struct {
	MaxConcurrent int64 `json:"maxConcurrent" mapstructure:"maxConcurrent"`
	BatchSize     int   `json:"batchSize" mapstructure:"batchSize"`
}

// ServerConfig holds HTTP and websocket settings
type ServerConfig struct {
	Addr              string  `json:"addr" mapstructure:"addr"`
	ReadLimit         int64   `json:"readLimit" mapstructure:"readLimit"`
	MessagesPerSecond float64 `json:"messagesPerSecond" mapstructure:"messagesPerSecond"`
	Burst             int     `json:"burst" mapstructure:"burst"`
	SendBuffer        int     `json:"sendBuffer" mapstructure:"sendBuffer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds the metrics sink settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// GraylogConfig holds the GELF log sink settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// Config is the typed view over the loaded viper state.
type Config struct {
	LogLevel        string
	LogsDir         string
	LogToFile       bool
	World           WorldConfig
	Generation      GenerationConfig
	Cache           CacheConfig
	Storage         StorageConfig
	Backfill        BackfillConfig
	Server          ServerConfig
	OTel            OTelConfig
	Influx          InfluxConfig
	Graylog         GraylogConfig
	MonitorInterval time.Duration
}

// ChunkWorldSize is the world-space edge of a chunk used for camera
// conversions.
func (c Config) ChunkWorldSize() float64 {
	return float64(c.World.ChunkSize * c.World.CellSize)
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("logToFile", false)

	viper.SetDefault("world.id", "default")
	viper.SetDefault("world.seed", 1337)
	viper.SetDefault("world.chunkSize", 16)
	viper.SetDefault("world.cellSize", 32)

	viper.SetDefault("generation.baseProbability", 0.05)
	viper.SetDefault("generation.densityThreshold", 0.45)
	viper.SetDefault("generation.minSeparation", 0.5)

	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("cache.maxEntries", 50000)
	viper.SetDefault("cache.sweepInterval", "1m")

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "./data/world.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "worldserver")
	viper.SetDefault("db.sslMode", "disable")
	viper.SetDefault("db.maxOpenConns", 10)

	viper.SetDefault("backfill.maxConcurrent", 5)
	viper.SetDefault("backfill.batchSize", 3)

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.readLimit", 64*1024)
	viper.SetDefault("server.messagesPerSecond", 20)
	viper.SetDefault("server.burst", 40)
	viper.SetDefault("server.sendBuffer", 256)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "worldserver")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "worldserver")
	viper.SetDefault("influx.bucket", "worldserver")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("monitor.interval", "10s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Every key can be
// overridden from the environment with the WORLDSERVER_ prefix, e.g.
// WORLDSERVER_WORLD_SEED.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("WORLDSERVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// LoadDefaults sets defaults without reading a file.
func LoadDefaults() {
	setDefaults()
}

// Get assembles the typed configuration from viper.
func Get() Config {
	return Config{
		LogLevel:  viper.GetString("logLevel"),
		LogsDir:   viper.GetString("logsDir"),
		LogToFile: viper.GetBool("logToFile"),
		World: WorldConfig{
			ID:        viper.GetString("world.id"),
			Seed:      viper.GetInt64("world.seed"),
			ChunkSize: viper.GetInt("world.chunkSize"),
			CellSize:  viper.GetInt("world.cellSize"),
		},
		Generation: GenerationConfig{
			BaseProbability:  viper.GetFloat64("generation.baseProbability"),
			DensityThreshold: viper.GetFloat64("generation.densityThreshold"),
			MinSeparation:    viper.GetFloat64("generation.minSeparation"),
		},
		Cache: CacheConfig{
			TTL:           viper.GetDuration("cache.ttl"),
			MaxEntries:    viper.GetInt("cache.maxEntries"),
			SweepInterval: viper.GetDuration("cache.sweepInterval"),
		},
		Storage: GetStorageConfig(),
		Backfill: BackfillConfig{
			MaxConcurrent: viper.GetInt64("backfill.maxConcurrent"),
			BatchSize:     viper.GetInt("backfill.batchSize"),
		},
		Server: ServerConfig{
			Addr:              viper.GetString("server.addr"),
			ReadLimit:         viper.GetInt64("server.readLimit"),
			MessagesPerSecond: viper.GetFloat64("server.messagesPerSecond"),
			Burst:             viper.GetInt("server.burst"),
			SendBuffer:        viper.GetInt("server.sendBuffer"),
		},
		OTel: GetOTelConfig(),
		Influx: InfluxConfig{
			Enabled:  viper.GetBool("influx.enabled"),
			Host:     viper.GetString("influx.host"),
			Port:     viper.GetString("influx.port"),
			Protocol: viper.GetString("influx.protocol"),
			Token:    viper.GetString("influx.token"),
			Org:      viper.GetString("influx.org"),
			Bucket:   viper.GetString("influx.bucket"),
		},
		Graylog: GraylogConfig{
			Enabled: viper.GetBool("graylog.enabled"),
			Address: viper.GetString("graylog.address"),
		},
		MonitorInterval: viper.GetDuration("monitor.interval"),
	}
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Sqlite: SqliteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:         viper.GetString("db.host"),
			Port:         viper.GetString("db.port"),
			Username:     viper.GetString("db.username"),
			Password:     viper.GetString("db.password"),
			Database:     viper.GetString("db.database"),
			SSLMode:      viper.GetString("db.sslMode"),
			MaxOpenConns: viper.GetInt("db.maxOpenConns"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
