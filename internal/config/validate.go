package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml key names so errors read like the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.Name == "" {
		return errors.New("instance.name is required")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Retry.MaxRetries < 1 {
		return errors.New("retry.max_retries must be >= 1")
	}
	if c.Retry.InitialDelay <= 0 {
		return errors.New("retry.initial_delay must be > 0")
	}

	if c.Realtime.SendBuffer < 1 {
		return errors.New("realtime.send_buffer must be >= 1")
	}
	if c.Realtime.SyncBurst < 1 {
		return errors.New("realtime.sync_burst must be >= 1")
	}

	if err := validate.Struct(c); err != nil {
		return tagError(err)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.URL == "" {
		if db.Host == "" {
			return fmt.Errorf("%s.host is required", prefix)
		}
		if db.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if db.User == "" {
			return fmt.Errorf("%s.user is required", prefix)
		}
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	if db.ConnectTimeout <= 0 {
		return fmt.Errorf("%s.connect_timeout must be > 0", prefix)
	}
	return nil
}

// tagError flattens the first struct-tag violation into a config-style message.
func tagError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	key := fe.Namespace()
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Errorf("%s must satisfy %s=%s, got %v", key, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s must satisfy %s, got %v", key, fe.Tag(), fe.Value())
}
