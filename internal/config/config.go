package config

import "time"

// Environment modes. The mode drives TLS policy and default pool sizing.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the root configuration for the backend service.
type Config struct {
	Instance InstanceConfig `yaml:"instance" koanf:"instance"`
	Server   ServerConfig   `yaml:"server" koanf:"server"`
	Database DBConfig       `yaml:"database" koanf:"database"`
	Retry    RetryConfig    `yaml:"retry" koanf:"retry"`
	Realtime RealtimeConfig `yaml:"realtime" koanf:"realtime"`
	Bridge   BridgeConfig   `yaml:"bridge" koanf:"bridge"`
	Metrics  MetricsConfig  `yaml:"metrics" koanf:"metrics"`
	Logging  LoggingConfig  `yaml:"logging" koanf:"logging"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	Name string `yaml:"name" koanf:"name"` // Reported as application_name to PostgreSQL
	Env  string `yaml:"env" koanf:"env" validate:"oneof=development production test"`
}

// IsProduction reports whether the instance runs in production mode.
func (i InstanceConfig) IsProduction() bool {
	return i.Env == EnvProduction
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `yaml:"port" koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" koanf:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" koanf:"shutdown_timeout"`
}

// DBConfig holds the PostgreSQL target and pool tuning.
//
// URL takes precedence over the discrete host/port/name/user/password fields.
type DBConfig struct {
	URL               string        `yaml:"url" koanf:"url"`
	Host              string        `yaml:"host" koanf:"host"`
	Port              int           `yaml:"port" koanf:"port"`
	Name              string        `yaml:"name" koanf:"name"`
	User              string        `yaml:"user" koanf:"user"`
	Password          string        `yaml:"password" koanf:"password"`
	SSLMode           string        `yaml:"ssl_mode" koanf:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	RequireTLS        bool          `yaml:"require_tls" koanf:"require_tls"`
	MaxConns          int           `yaml:"max_conns" koanf:"max_conns"`
	MinConns          int           `yaml:"min_conns" koanf:"min_conns"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" koanf:"idle_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" koanf:"connect_timeout"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout" koanf:"acquire_timeout"`
	StatementTimeout  time.Duration `yaml:"statement_timeout" koanf:"statement_timeout"`
	QueryTimeout      time.Duration `yaml:"query_timeout" koanf:"query_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" koanf:"keepalive_interval"`
	TraceLevel        string        `yaml:"trace_level" koanf:"trace_level" validate:"omitempty,oneof=trace debug info warn error none"`
}

// RetryConfig governs the initial-connect backoff.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" koanf:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay" koanf:"initial_delay"`
}

// RealtimeConfig holds websocket and sync dispatcher settings.
type RealtimeConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout" koanf:"write_timeout"`
	PongTimeout    time.Duration `yaml:"pong_timeout" koanf:"pong_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size" koanf:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer" koanf:"send_buffer"`
	AuthSecret     string        `yaml:"auth_secret" koanf:"auth_secret"` // Empty disables token checks
	SyncRate       float64       `yaml:"sync_rate" koanf:"sync_rate"`     // sync_request per second per socket
	SyncBurst      int           `yaml:"sync_burst" koanf:"sync_burst"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout" koanf:"breaker_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" koanf:"allowed_origins"`
}

// BridgeConfig enables cross-instance fan-out over NATS. Empty URL disables it.
type BridgeConfig struct {
	NATSURL string `yaml:"nats_url" koanf:"nats_url"`
	Subject string `yaml:"subject" koanf:"subject"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Path    string `yaml:"path" koanf:"path"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" koanf:"format" validate:"omitempty,oneof=json console"`
}
