package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceName        = "saranga-ayurveda-backend"
	DefaultEnv                 = EnvDevelopment
	DefaultPort                = 5001
	DefaultReadTimeout         = 15 * time.Second
	DefaultWriteTimeout        = 15 * time.Second
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultDBPort              = 5432
	DefaultMaxConns            = 10
	DefaultProductionMaxConns  = 20
	DefaultIdleTimeout         = 30 * time.Second
	DefaultConnectTimeout      = 10 * time.Second
	DefaultStatementTimeout    = 30 * time.Second
	DefaultKeepaliveInterval   = 10 * time.Second
	DefaultMaxRetries          = 5
	DefaultInitialDelay        = 1 * time.Second
	DefaultWSWriteTimeout      = 10 * time.Second
	DefaultWSPongTimeout       = 60 * time.Second
	DefaultWSMaxMessageSize    = 64 * 1024
	DefaultWSSendBuffer        = 64
	DefaultSyncRate            = 2.0
	DefaultSyncBurst           = 5
	DefaultBreakerTimeout      = 30 * time.Second
	DefaultBridgeSubject       = "realtime.sync"
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
	DefaultLogFormatProduction = "json"
	DefaultLogFormat           = "console"
)

func (c *Config) applyDefaults() {
	if c.Instance.Name == "" {
		c.Instance.Name = DefaultInstanceName
	}
	if c.Instance.Env == "" {
		c.Instance.Env = DefaultEnv
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	applyDBDefaults(&c.Database, c.Instance.IsProduction())

	// Retry defaults
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = DefaultMaxRetries
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = DefaultInitialDelay
	}

	// Realtime defaults
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWSWriteTimeout
	}
	if c.Realtime.PongTimeout == 0 {
		c.Realtime.PongTimeout = DefaultWSPongTimeout
	}
	if c.Realtime.MaxMessageSize == 0 {
		c.Realtime.MaxMessageSize = DefaultWSMaxMessageSize
	}
	if c.Realtime.SendBuffer == 0 {
		c.Realtime.SendBuffer = DefaultWSSendBuffer
	}
	if c.Realtime.SyncRate == 0 {
		c.Realtime.SyncRate = DefaultSyncRate
	}
	if c.Realtime.SyncBurst == 0 {
		c.Realtime.SyncBurst = DefaultSyncBurst
	}
	if c.Realtime.BreakerTimeout == 0 {
		c.Realtime.BreakerTimeout = DefaultBreakerTimeout
	}

	if c.Bridge.Subject == "" {
		c.Bridge.Subject = DefaultBridgeSubject
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
		if c.Instance.IsProduction() {
			c.Logging.Format = DefaultLogFormatProduction
		}
	}
}

func applyDBDefaults(db *DBConfig, production bool) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
		if production {
			db.MaxConns = DefaultProductionMaxConns
		}
	}
	if db.IdleTimeout == 0 {
		db.IdleTimeout = DefaultIdleTimeout
	}
	if db.ConnectTimeout == 0 {
		db.ConnectTimeout = DefaultConnectTimeout
	}
	if db.AcquireTimeout == 0 {
		db.AcquireTimeout = db.ConnectTimeout
	}
	if db.StatementTimeout == 0 {
		db.StatementTimeout = DefaultStatementTimeout
	}
	if db.QueryTimeout == 0 {
		db.QueryTimeout = db.StatementTimeout
	}
	if db.KeepaliveInterval == 0 {
		db.KeepaliveInterval = DefaultKeepaliveInterval
	}
}

// ResolvedSSLMode returns the sslmode to use for the connection.
// An explicit ssl_mode wins; otherwise TLS is required in production or when
// require_tls is set, and preferred elsewhere.
func (c *Config) ResolvedSSLMode() string {
	if c.Database.SSLMode != "" {
		return c.Database.SSLMode
	}
	if c.Database.RequireTLS || c.Instance.IsProduction() {
		return "require"
	}
	return "prefer"
}
