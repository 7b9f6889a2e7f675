package protocol

import (
	"fmt"
	"time"
)

// TransportKind selects the transport implementation.
type TransportKind string

const (
	TransportQUIC      TransportKind = "quic"
	TransportWebSocket TransportKind = "websocket"
	TransportMemory    TransportKind = "memory"
)

// Config holds transport settings shared by every implementation.
type Config struct {
	Kind       TransportKind `yaml:"kind" env:"TRANSPORT"`
	ListenAddr string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	// Path is the HTTP path of the WebSocket endpoint.
	Path string `yaml:"path" env:"WS_PATH"`

	InboxSize         int           `yaml:"inbox_size" env:"INBOX_SIZE"`
	MaxFrameSize      int           `yaml:"max_frame_size" env:"MAX_FRAME_SIZE"`
	CompressThreshold int           `yaml:"compress_threshold" env:"COMPRESS_THRESHOLD"`
	DialTimeout       time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	KeepAlive         time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

func DefaultConfig() Config {
	return Config{
		Kind:              TransportQUIC,
		ListenAddr:        "0.0.0.0:7777",
		Path:              "/coop",
		InboxSize:         4096,
		MaxFrameSize:      DefaultMaxFrameSize,
		CompressThreshold: DefaultCompressThreshold,
		DialTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		KeepAlive:         5 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

func (c Config) Validate() error {
	switch c.Kind {
	case TransportQUIC, TransportWebSocket, TransportMemory:
	default:
		return fmt.Errorf("transport.kind: unsupported transport %q", c.Kind)
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("transport.inbox_size: must be positive, got %d", c.InboxSize)
	}
	if c.MaxFrameSize < MaxDatagramPayload {
		return fmt.Errorf("transport.max_frame_size: must be at least %d, got %d", MaxDatagramPayload, c.MaxFrameSize)
	}
	if c.CompressThreshold < 0 {
		return fmt.Errorf("transport.compress_threshold: must not be negative")
	}
	return nil
}

func (c Config) Framer() Framer {
	return NewFramer(c.CompressThreshold, c.MaxFrameSize)
}
