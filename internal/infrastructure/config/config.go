package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/ada-core/internal/command"
	"github.com/nerrad567/ada-core/internal/schedule"
)

// DefaultPath is used when ADA_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the Ada server.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Server       ServerConfig       `yaml:"server"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Choreography ChoreographyConfig `yaml:"choreography"`
	Remote       RemoteConfig       `yaml:"remote"`
	Firmware     FirmwareConfig     `yaml:"firmware"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Database     DatabaseConfig     `yaml:"database"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
	Pis          PisConfig          `yaml:"pis"`
	DMX          DMXConfig          `yaml:"dmx"`
}

// SiteConfig identifies the installation and where it is.
type SiteConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Location LocationConfig `yaml:"location"`

	// UTCOffset is local time relative to UTC, in hours.
	UTCOffset float64 `yaml:"utc_offset"`
}

// LocationConfig contains geographic coordinates for sunrise and sunset.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// ServerConfig contains the device-facing TCP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Timeouts in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`
	ReadTimeout      int `yaml:"read_timeout"`
	WriteTimeout     int `yaml:"write_timeout"`

	// BridgePingInterval throttles smart-plug status polling, in seconds.
	BridgePingInterval int `yaml:"bridge_ping_interval"`

	// SimulatedDevices are registered with in-process transports, for
	// running without hardware.
	SimulatedDevices []string `yaml:"simulated_devices"`
}

// ScheduleConfig contains the power schedule.
type ScheduleConfig struct {
	OnDays  []string             `yaml:"on_days"`
	OnTime  schedule.TimeSetting `yaml:"on_time"`
	OffTime schedule.TimeSetting `yaml:"off_time"`

	// Timeouts in seconds.
	TurnOffTimeout         int `yaml:"turn_off_timeout"`
	CustomAnimationTimeout int `yaml:"custom_animation_timeout"`
	RebootTimeout          int `yaml:"reboot_timeout"`

	ScheduledOverrides []schedule.DayOverride `yaml:"scheduled_overrides"`
}

// ZoneMapFile names the zone map for one device.
type ZoneMapFile struct {
	Target string `yaml:"target"`
	File   string `yaml:"file"`
}

// ChoreographyConfig tunes the lighting engine. Durations are seconds
// unless noted.
type ChoreographyConfig struct {
	// TickInterval is the engine period in milliseconds.
	TickInterval int `yaml:"tick_interval"`

	// AutoReboot is the number of hours of running before a scheduled
	// reboot. Zero disables it.
	AutoReboot float64 `yaml:"auto_reboot"`

	RainbowTimeout       float64              `yaml:"rainbow_timeout"`
	MovementRainTimeout  float64              `yaml:"movement_rain_timeout"`
	CoolAnimationTimeout float64              `yaml:"cool_animation_timeout"`
	CoolAnimationTime    schedule.TimeSetting `yaml:"cool_animation_time"`
	HoldCameraBlush      float64              `yaml:"hold_camera_blush"`
	HoldSenseiBlush      float64              `yaml:"hold_sensei_blush"`
	EnableMovement       bool                 `yaml:"enable_movement"`

	// CameraZones groups sentiment cameras into zones, one list per zone.
	CameraZones [][]string `yaml:"camera_zones"`

	ColorsForEmotions    map[string]command.Color `yaml:"colors_for_emotions"`
	ColorsForDMXEmotions map[string]command.Color `yaml:"colors_for_dmx_emotions"`

	// ZoneMaps is ordered; remote pixel commands address devices by index.
	ZoneMaps []ZoneMapFile `yaml:"zone_maps"`

	// Animations lists animation files, YAML or Lua.
	Animations []string `yaml:"animations"`
}

// RemoteConfig limits inbound remote-control traffic.
type RemoteConfig struct {
	// RateLimit is the sustained messages per second.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// QueueLimit caps pending messages; the oldest are dropped beyond it.
	QueueLimit int `yaml:"queue_limit"`
}

// FirmwareConfig contains device firmware distribution settings.
type FirmwareConfig struct {
	Enabled bool `yaml:"enabled"`

	// BaseURL is where <blob> and <blob>.hash are published.
	BaseURL   string `yaml:"base_url"`
	Blob      string `yaml:"blob"`
	LocalPath string `yaml:"local_path"`

	// Schedule is a cron expression for the poll.
	Schedule string `yaml:"schedule"`

	// RetryInterval and Timeout are seconds.
	RetryInterval int `yaml:"retry_interval"`
	Timeout       int `yaml:"timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Output is stdout, stderr or file.
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT settings. An empty secret disables API
// authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// RateLimitConfig limits HTTP API requests per client address.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// PisConfig describes the Raspberry Pi controllers started over SSH.
type PisConfig struct {
	Managed    bool     `yaml:"managed"`
	User       string   `yaml:"user"`
	Hosts      []string `yaml:"hosts"`
	SSHCommand string   `yaml:"ssh_command"`

	// RestartDelay is seconds between restarts.
	RestartDelay int `yaml:"restart_delay"`
}

// DMXConfig describes the optional DMX controller process.
type DMXConfig struct {
	Managed      bool     `yaml:"managed"`
	Binary       string   `yaml:"binary"`
	Args         []string `yaml:"args"`
	RestartDelay int      `yaml:"restart_delay"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern ADA_SECTION_KEY, for example
// ADA_DATABASE_PATH or ADA_MQTT_HOST.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Path returns the config file location from ADA_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("ADA_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "ada",
			Name: "Ada",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               12345,
			HandshakeTimeout:   10,
			ReadTimeout:        30,
			WriteTimeout:       5,
			BridgePingInterval: 600,
		},
		Schedule: ScheduleConfig{
			OnDays:                 []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"},
			OnTime:                 schedule.TimeSetting{Sun: schedule.Sunset},
			OffTime:                schedule.TimeSetting{Sun: schedule.Sunrise},
			TurnOffTimeout:         180,
			CustomAnimationTimeout: 3600,
			RebootTimeout:          60,
		},
		Choreography: ChoreographyConfig{
			TickInterval:         25,
			AutoReboot:           24,
			RainbowTimeout:       30,
			MovementRainTimeout:  30,
			CoolAnimationTimeout: 600,
			HoldCameraBlush:      10,
			HoldSenseiBlush:      10,
			EnableMovement:       true,
		},
		Remote: RemoteConfig{
			RateLimit:  5,
			Burst:      10,
			QueueLimit: 100,
		},
		Firmware: FirmwareConfig{
			Blob:          "firmware.hex",
			LocalPath:     "./data/firmware.hex",
			Schedule:      "0 0 * * *",
			RetryInterval: 10,
			Timeout:       60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ada-server",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/ada.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{Issuer: "ada"},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
		},
		Pis: PisConfig{
			User:         "pi",
			RestartDelay: 10,
		},
		DMX: DMXConfig{
			RestartDelay: 10,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("ADA_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("ADA_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ADA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ADA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("ADA_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("ADA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("ADA_FIRMWARE_BASE_URL"); v != "" {
		cfg.Firmware.BaseURL = v
	}

	if v := os.Getenv("ADA_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Site.UTCOffset < -14 || c.Site.UTCOffset > 14 {
		errs = append(errs, "site.utc_offset must be between -14 and 14 hours")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if _, err := schedule.ParseWeekdays(c.Schedule.OnDays); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.on_days: %v", err))
	}
	if c.Schedule.TurnOffTimeout < 0 || c.Schedule.CustomAnimationTimeout < 0 || c.Schedule.RebootTimeout < 0 {
		errs = append(errs, "schedule timeouts cannot be negative")
	}

	if c.Choreography.TickInterval <= 0 {
		errs = append(errs, "choreography.tick_interval must be positive")
	}
	for i, zm := range c.Choreography.ZoneMaps {
		if zm.Target == "" || zm.File == "" {
			errs = append(errs, fmt.Sprintf("choreography.zone_maps[%d] needs target and file", i))
		}
	}

	if c.Remote.RateLimit <= 0 || c.Remote.Burst < 1 {
		errs = append(errs, "remote.rate_limit and remote.burst must be positive")
	}

	if c.Firmware.Enabled && c.Firmware.BaseURL == "" {
		errs = append(errs, "firmware.base_url is required when firmware is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, org and bucket are required when influxdb is enabled")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Pis.Managed && (len(c.Pis.Hosts) == 0 || c.Pis.SSHCommand == "") {
		errs = append(errs, "pis.hosts and pis.ssh_command are required when pis are managed")
	}
	if c.DMX.Managed && c.DMX.Binary == "" {
		errs = append(errs, "dmx.binary is required when dmx is managed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Seconds converts a whole-second setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// FloatSeconds converts a fractional-second setting to a Duration.
func FloatSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ScheduleConfig converts the schedule section for the state machine.
func (c *Config) ScheduleConfig() (schedule.Config, error) {
	days, err := schedule.ParseWeekdays(c.Schedule.OnDays)
	if err != nil {
		return schedule.Config{}, err
	}
	return schedule.Config{
		RunDays:        days,
		OnTime:         c.Schedule.OnTime,
		OffTime:        c.Schedule.OffTime,
		Latitude:       c.Site.Location.Latitude,
		Longitude:      c.Site.Location.Longitude,
		UTCOffset:      c.Site.UTCOffset,
		TurnOffTimeout: Seconds(c.Schedule.TurnOffTimeout),
		CustomTimeout:  Seconds(c.Schedule.CustomAnimationTimeout),
		RebootTimeout:  Seconds(c.Schedule.RebootTimeout),
		Overrides:      c.Schedule.ScheduledOverrides,
	}, nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return Seconds(c.API.Timeouts.Read)
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return Seconds(c.API.Timeouts.Write)
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return Seconds(c.API.Timeouts.Idle)
}
