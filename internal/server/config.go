package server

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultAddr      = "127.0.0.1:7938"
	DefaultRateLimit = "100-S"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// RateLimit is a ulule formatted rate, e.g. "100-S" or "1000-M".
	// Empty disables limiting.
	RateLimit string `mapstructure:"rate_limit"`

	// MaxUploadBytes caps the multipart body of an ingest request.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes must not be negative")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert_file and key_file must be set together")
	}
	return nil
}

func (c *Config) TLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}
