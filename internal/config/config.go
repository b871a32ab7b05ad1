package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// VehicleConfig describes one MAVLink endpoint.
type VehicleConfig struct {
	Kind     string `json:"kind" mapstructure:"kind"`
	SystemID int    `json:"systemId" mapstructure:"systemId"`
	// Address is the UDP endpoint, e.g. "127.0.0.1:14550".
	Address string `json:"address" mapstructure:"address"`
	// Server makes the endpoint listen instead of dialing out.
	Server bool `json:"server" mapstructure:"server"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Backend string `json:"backend" mapstructure:"backend"`
	DataDir string `json:"dataDir" mapstructure:"dataDir"`
	// SQLite database path, used when Backend is "sqlite".
	Path string `json:"path" mapstructure:"path"`
	// Postgres connection settings, used when Backend is "postgres".
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("site.name", "ol-pejeta")

	viper.SetDefault("server.addr", ":8000")

	viper.SetDefault("coordination.tickSeconds", 2)
	viper.SetDefault("coordination.followAltitude", 15.0)
	viper.SetDefault("coordination.maxFollowDistance", 500.0)
	viper.SetDefault("coordination.proximityThreshold", 5.0)
	viper.SetDefault("coordination.proximityCooldownSeconds", 2)
	viper.SetDefault("coordination.trackingIntervalSeconds", 1)

	viper.SetDefault("survey.swathWidth", 10.0)
	viper.SetDefault("survey.patternRadius", 50.0)
	viper.SetDefault("survey.altitude", 15.0)
	viper.SetDefault("survey.timeoutSeconds", 320)
	viper.SetDefault("survey.maxCarDrift", 50.0)
	viper.SetDefault("survey.resumeAltitudeFloor", 2.0)

	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("storage.dataDir", "./data")
	viper.SetDefault("storage.path", "./data/groundlink.db")
	viper.SetDefault("storage.host", "localhost")
	viper.SetDefault("storage.port", "5432")
	viper.SetDefault("storage.username", "postgres")
	viper.SetDefault("storage.password", "postgres")
	viper.SetDefault("storage.database", "groundlink")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "groundlink")
	viper.SetDefault("influx.bucket", "vehicle_telemetry")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.batchTimeoutSeconds", 5)

	viper.SetConfigName("groundlink.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// Vehicles returns the configured vehicle endpoints.
func Vehicles() ([]VehicleConfig, error) {
	var vehicles []VehicleConfig
	if err := viper.UnmarshalKey("vehicles", &vehicles); err != nil {
		return nil, fmt.Errorf("error parsing vehicles config: %w", err)
	}
	return vehicles, nil
}

// Storage returns the persistence backend settings.
func Storage() (StorageConfig, error) {
	cfg := StorageConfig{
		Backend:  viper.GetString("storage.backend"),
		DataDir:  viper.GetString("storage.dataDir"),
		Path:     viper.GetString("storage.path"),
		Host:     viper.GetString("storage.host"),
		Port:     viper.GetString("storage.port"),
		Username: viper.GetString("storage.username"),
		Password: viper.GetString("storage.password"),
		Database: viper.GetString("storage.database"),
	}
	if cfg.Backend == "" {
		return cfg, fmt.Errorf("storage.backend must be set")
	}
	return cfg, nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
