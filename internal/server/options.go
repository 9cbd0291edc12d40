package server

import (
	"github.com/bigbag/papyrix-stub/internal/stub"
	"github.com/bigbag/papyrix-stub/internal/transport"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Config holds the serve loop's collaborators. Missing ones turn the
// matching followup into a logged no-op.
type Config struct {
	Logger   stub.Logger
	Executor Executor
	Rebooter Rebooter
	Baud     transport.BaudSwitcher
	Tracer   Tracer
}

func defaultConfig() Config {
	return Config{Logger: nopLogger{}}
}

// Option is a functional option for configuring the Server.
type Option func(*Config)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger stub.Logger) Option {
	return func(c *Config) {
		if logger == nil {
			logger = nopLogger{}
		}
		c.Logger = logger
	}
}

// WithExecutor sets where MEM_END jumps go.
func WithExecutor(e Executor) Option {
	return func(c *Config) { c.Executor = e }
}

// WithRebooter sets what FLASH_END and RUN_USER_CODE reboot.
func WithRebooter(r Rebooter) Option {
	return func(c *Config) { c.Rebooter = r }
}

// WithBaudSwitcher sets what CHANGE_BAUDRATE reprograms.
func WithBaudSwitcher(b transport.BaudSwitcher) Option {
	return func(c *Config) { c.Baud = b }
}

// WithTracer records every packet.
func WithTracer(t Tracer) Option {
	return func(c *Config) { c.Tracer = t }
}
