package stub

import "github.com/bigbag/papyrix-stub/internal/protocol"

// Logger is an optional logging interface. Any structured logger can be
// adapted to it.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Config holds the dispatcher configuration.
type Config struct {
	// Logger receives one Error line per failed command (optional)
	Logger Logger

	// SectorSize is the erase granularity used for alignment checks
	SectorSize uint32

	// MaxPacketSize bounds packet_size in BEGIN and READ_FLASH
	MaxPacketSize uint32
}

func defaultConfig() Config {
	return Config{
		Logger:        nopLogger{},
		SectorSize:    protocol.FlashSectorSize,
		MaxPacketSize: protocol.MaxBlockSize,
	}
}

// Option is a functional option for configuring the Stub.
type Option func(*Config)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger == nil {
			logger = nopLogger{}
		}
		c.Logger = logger
	}
}

// WithSectorSize overrides the flash sector size. It must be a power of two.
func WithSectorSize(size uint32) Option {
	return func(c *Config) {
		if size != 0 && size&(size-1) == 0 {
			c.SectorSize = size
		}
	}
}

// WithMaxPacketSize overrides the largest accepted packet_size.
func WithMaxPacketSize(size uint32) Option {
	return func(c *Config) {
		if size > 0 {
			c.MaxPacketSize = size
		}
	}
}
