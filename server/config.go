package server

import "time"

// Config contains the tuning options recognized by a Server. It is treated
// as an immutable value: the Server copies it at construction and never
// mutates it afterwards. The zero value is usable; unset fields fall back
// to the defaults below via normalize.
type Config struct {
	// Queue depth for inbound connections that have completed the TCP
	// handshake but have not yet been accepted.
	PendingConnectionBacklog int `mapstructure:"pending_connection_backlog"`
	// Allow connections to traverse NATs where the platform supports it.
	// On IPv6 listeners this disables V6ONLY so the socket is dual-stack.
	AllowNATTraversal bool `mapstructure:"allow_nat_traversal"`
	// When false, the listening address may be rebound while sockets from
	// a previous run linger in TIME_WAIT (SO_REUSEADDR).
	ExclusiveAddressUse bool `mapstructure:"exclusive_address_use"`
	// Number of receive buffers preallocated by the server's buffer pool.
	InitialBufferAllocationCount int `mapstructure:"initial_buffer_allocation_count"`
	// Size in bytes of each receive buffer.
	ReceiveBufferSize int `mapstructure:"receive_buffer_size"`
	// When true, Stop closes live sessions and waits for their goroutines
	// to finish instead of leaving them to run until the peer disconnects.
	DrainOnStop bool `mapstructure:"drain_on_stop"`
	// How long a disconnected endpoint is remembered for reconnect logging.
	RecentDisconnectTTL time.Duration `mapstructure:"recent_disconnect_ttl"`
}

const (
	defaultBacklog             = 128
	defaultInitialBufferCount  = 64
	defaultReceiveBufferSize   = 2048
	defaultRecentDisconnectTTL = 30 * time.Second
)

// DefaultConfig returns the configuration used when no options are supplied.
func DefaultConfig() Config {
	return Config{
		PendingConnectionBacklog:     defaultBacklog,
		ExclusiveAddressUse:          true,
		InitialBufferAllocationCount: defaultInitialBufferCount,
		ReceiveBufferSize:            defaultReceiveBufferSize,
		RecentDisconnectTTL:          defaultRecentDisconnectTTL,
	}
}

// normalize fills unset numeric fields with their defaults. Boolean options
// keep their zero values since false is a meaningful choice for them.
func (c Config) normalize() Config {
	if c.PendingConnectionBacklog <= 0 {
		c.PendingConnectionBacklog = defaultBacklog
	}
	if c.InitialBufferAllocationCount <= 0 {
		c.InitialBufferAllocationCount = defaultInitialBufferCount
	}
	if c.ReceiveBufferSize <= 0 {
		c.ReceiveBufferSize = defaultReceiveBufferSize
	}
	if c.RecentDisconnectTTL <= 0 {
		c.RecentDisconnectTTL = defaultRecentDisconnectTTL
	}
	return c
}
