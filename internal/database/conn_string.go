package database

import (
	"fmt"
	"net/url"
	"time"

	"github.com/saranga-ayurveda/backend/internal/config"
)

// Options is the resolved pool configuration handed to a Driver.
type Options struct {
	ConnString        string
	ApplicationName   string
	MaxConns          int
	MinConns          int
	IdleTimeout       time.Duration
	ConnectTimeout    time.Duration
	AcquireTimeout    time.Duration
	StatementTimeout  time.Duration
	QueryTimeout      time.Duration
	KeepaliveInterval time.Duration
	TraceLevel        string
	Production        bool
}

// OptionsFromConfig resolves pool options, including the TLS mode, from cfg.
// cfg is expected to have defaults applied.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConnString:        BuildConnString(cfg.Database, cfg.ResolvedSSLMode()),
		ApplicationName:   cfg.Instance.Name,
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		IdleTimeout:       cfg.Database.IdleTimeout,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
		AcquireTimeout:    cfg.Database.AcquireTimeout,
		StatementTimeout:  cfg.Database.StatementTimeout,
		QueryTimeout:      cfg.Database.QueryTimeout,
		KeepaliveInterval: cfg.Database.KeepaliveInterval,
		TraceLevel:        cfg.Database.TraceLevel,
		Production:        cfg.Instance.IsProduction(),
	}
}

func (o Options) withDefaults() Options {
	if o.MaxConns < 1 {
		o.MaxConns = config.DefaultMaxConns
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = config.DefaultConnectTimeout
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = o.ConnectTimeout
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = config.DefaultStatementTimeout
	}
	return o
}

// BuildConnString builds a PostgreSQL connection string from config.
// A configured URL is used as is, gaining sslmode when it has none. When
// sslMode demands TLS, a weaker sslmode in the URL is replaced.
func BuildConnString(cfg config.DBConfig, sslMode string) string {
	if sslMode == "" {
		sslMode = "prefer"
	}

	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			// Let the driver report the parse error.
			return cfg.URL
		}
		q := u.Query()
		if own := q.Get("sslmode"); own == "" || weakerSSLMode(own, sslMode) {
			q.Set("sslmode", sslMode)
			u.RawQuery = q.Encode()
		}
		return u.String()
	}

	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

var sslModeRank = map[string]int{
	"disable":     0,
	"allow":       1,
	"prefer":      2,
	"require":     3,
	"verify-ca":   4,
	"verify-full": 5,
}

// weakerSSLMode reports whether own must give way to a required mode.
func weakerSSLMode(own, required string) bool {
	want, ok := sslModeRank[required]
	if !ok || want < sslModeRank["require"] {
		return false
	}
	have, ok := sslModeRank[own]
	return !ok || have < want
}
