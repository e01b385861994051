// Package config holds the server configuration snapshot the CLI
// collaborator builds once at startup and the reactor consumes for the
// lifetime of the process, mirroring the reference emulator's
// PGServerConfig.
package config

import "time"

// Config is the full set of knobs the CLI exposes.
type Config struct {
	Host string
	Port int

	MaxConnections int
	MaxFrameSize   int
	MaxWriteBuffer int

	StartupTimeout time.Duration

	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string

	MetricsAddr string

	Verbose bool
	LogFile string
}

// Default returns the configuration the reference emulator ships with:
// bind 127.0.0.1:5432, 100 connections, TLS off.
func Default() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           5432,
		MaxConnections: 100,
		MaxFrameSize:   1 << 20,
		MaxWriteBuffer: 16 << 20,
		StartupTimeout: 10 * time.Second,
	}
}
