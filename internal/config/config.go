package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the optional JSON config file looked up in the config directory.
const FileName = "vpr_collector.cfg.json"

// SimConfig holds the simulator connection and driving session settings.
type SimConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	Autopilot     bool          `json:"autopilot" mapstructure:"autopilot"`
	Sync          bool          `json:"sync" mapstructure:"sync"`
	FixedDelta    float64       `json:"fixedDelta" mapstructure:"fixedDelta"`
	LoopRate      int           `json:"loopRate" mapstructure:"loopRate"`
	RoleName      string        `json:"rolename" mapstructure:"rolename"`
	Blueprint     string        `json:"blueprint" mapstructure:"blueprint"`
	SpawnIndex    int           `json:"spawnIndex" mapstructure:"spawnIndex"`
	Gamma         float64       `json:"gamma" mapstructure:"gamma"`
	Resolution    string        `json:"res" mapstructure:"res"`
	CamResolution string        `json:"camres" mapstructure:"camres"`
	Headless      bool          `json:"headless" mapstructure:"headless"`
}

// RecordingConfig controls where and how frames are written.
type RecordingConfig struct {
	DataDir     string   `json:"dataDir" mapstructure:"dataDir"`
	Cameras     []string `json:"cameras" mapstructure:"cameras"`
	JPEGQuality int      `json:"jpegQuality" mapstructure:"jpegQuality"`
	StartOn     bool     `json:"startOn" mapstructure:"startOn"`
	QueueSize   int      `json:"queueSize" mapstructure:"queueSize"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings.
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds the connection settings of the postgres backend.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

// WebSocketConfig holds the live stream backend settings.
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// GeoConfig anchors simulator world coordinates to WGS84.
type GeoConfig struct {
	OriginLat float64 `json:"originLat" mapstructure:"originLat"`
	OriginLon float64 `json:"originLon" mapstructure:"originLon"`
}

// StorageConfig selects the optional backend that mirrors the frame index.
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	Postgres  PostgresConfig  `json:"postgres" mapstructure:"postgres"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
	Geo       GeoConfig       `json:"geo" mapstructure:"geo"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds the vehicle telemetry sink settings.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// UploadConfig controls sending the exported session file to a dataset server.
type UploadConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
}

// MonitorConfig controls the status file writer.
type MonitorConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// SetDefaults registers every default value.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("sim.host", "127.0.0.1")
	viper.SetDefault("sim.port", 2000)
	viper.SetDefault("sim.timeout", "2000s")
	viper.SetDefault("sim.autopilot", false)
	viper.SetDefault("sim.sync", false)
	viper.SetDefault("sim.fixedDelta", 0.05)
	viper.SetDefault("sim.loopRate", 30)
	viper.SetDefault("sim.rolename", "hero")
	viper.SetDefault("sim.blueprint", "vehicle.lincoln.mkz_2020")
	viper.SetDefault("sim.spawnIndex", 10)
	viper.SetDefault("sim.gamma", 2.2)
	viper.SetDefault("sim.res", "1280x720")
	viper.SetDefault("sim.camres", "640x480")
	viper.SetDefault("sim.headless", false)

	viper.SetDefault("recording.dataDir", "data")
	viper.SetDefault("recording.cameras", []string{"cam1", "cam2", "cam3"})
	viper.SetDefault("recording.jpegQuality", 95)
	viper.SetDefault("recording.startOn", false)
	viper.SetDefault("recording.queueSize", 64)

	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "vpr")
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/api")
	viper.SetDefault("storage.websocket.secret", "")
	viper.SetDefault("storage.geo.originLat", 49.0)
	viper.SetDefault("storage.geo.originLon", 8.0)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "vpr-collector")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "vpr-metrics")
	viper.SetDefault("influx.bucket", "vehicle")

	viper.SetDefault("upload.enabled", false)
	viper.SetDefault("upload.serverUrl", "http://localhost:5000")
	viper.SetDefault("upload.apiKey", "")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "1s")
}

// Load sets default values and reads the JSON config file from configDir.
// A missing file is reported as ErrNoConfigFile; the defaults stay in effect.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w in %s", ErrNoConfigFile, configDir)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// ErrNoConfigFile means only defaults and flags are in effect.
var ErrNoConfigFile = errors.New("no config file")

// Flags declares the command line flags. Each flag is bound to its config
// key by BindFlags.
func Flags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "IP of the host server")
	fs.IntP("port", "p", 2000, "TCP port to listen to")
	fs.BoolP("autopilot", "a", false, "enable autopilot")
	fs.String("res", "1280x720", "window resolution (WIDTHxHEIGHT)")
	fs.String("camres", "640x480", "camera resolution (WIDTHxHEIGHT)")
	fs.String("rolename", "hero", "actor role name")
	fs.Float64("gamma", 2.2, "gamma correction of the camera")
	fs.Bool("sync", false, "activate synchronous mode execution")
	fs.Bool("headless", false, "run without a window, keyboard input disabled")
	fs.BoolP("verbose", "v", false, "print debug information")
	fs.String("data-dir", "data", "recording root directory")
	fs.String("config", ".", "directory containing "+FileName)
}

var flagKeys = map[string]string{
	"host":      "sim.host",
	"port":      "sim.port",
	"autopilot": "sim.autopilot",
	"res":       "sim.res",
	"camres":    "sim.camres",
	"rolename":  "sim.rolename",
	"gamma":     "sim.gamma",
	"sync":      "sim.sync",
	"headless":  "sim.headless",
	"data-dir":  "recording.dataDir",
}

// BindFlags binds the flags declared by Flags to their config keys. A flag
// the user did not set leaves the config file value in place. --verbose
// forces the debug log level.
func BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	if verbose, err := fs.GetBool("verbose"); err == nil && verbose {
		viper.Set("logLevel", "debug")
	}
	return nil
}

// GetSimConfig returns the simulator settings.
func GetSimConfig() SimConfig {
	return SimConfig{
		Host:          viper.GetString("sim.host"),
		Port:          viper.GetInt("sim.port"),
		Timeout:       viper.GetDuration("sim.timeout"),
		Autopilot:     viper.GetBool("sim.autopilot"),
		Sync:          viper.GetBool("sim.sync"),
		FixedDelta:    viper.GetFloat64("sim.fixedDelta"),
		LoopRate:      viper.GetInt("sim.loopRate"),
		RoleName:      viper.GetString("sim.rolename"),
		Blueprint:     viper.GetString("sim.blueprint"),
		SpawnIndex:    viper.GetInt("sim.spawnIndex"),
		Gamma:         viper.GetFloat64("sim.gamma"),
		Resolution:    viper.GetString("sim.res"),
		CamResolution: viper.GetString("sim.camres"),
		Headless:      viper.GetBool("sim.headless"),
	}
}

// GetRecordingConfig returns the recording settings.
func GetRecordingConfig() RecordingConfig {
	return RecordingConfig{
		DataDir:     viper.GetString("recording.dataDir"),
		Cameras:     viper.GetStringSlice("recording.cameras"),
		JPEGQuality: viper.GetInt("recording.jpegQuality"),
		StartOn:     viper.GetBool("recording.startOn"),
		QueueSize:   viper.GetInt("recording.queueSize"),
	}
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
			SSLMode:  viper.GetString("storage.postgres.sslmode"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
		Geo: GeoConfig{
			OriginLat: viper.GetFloat64("storage.geo.originLat"),
			OriginLon: viper.GetFloat64("storage.geo.originLon"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the telemetry sink configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetUploadConfig returns the session upload settings.
func GetUploadConfig() UploadConfig {
	return UploadConfig{
		Enabled:   viper.GetBool("upload.enabled"),
		ServerURL: viper.GetString("upload.serverUrl"),
		APIKey:    viper.GetString("upload.apiKey"),
	}
}

// GetMonitorConfig returns the status monitor configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:  viper.GetBool("monitor.enabled"),
		Interval: viper.GetDuration("monitor.interval"),
	}
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: width: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: height: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: must be positive", s)
	}
	return width, height, nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}
