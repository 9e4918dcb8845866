package config

// NetConfig contains link tuning options.
type NetConfig struct {
	DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
	DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
	DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms"`

	// InboxCapacity bounds frames buffered between the reader and the sim tick.
	InboxCapacity int `mapstructure:"inbox_capacity"`
	// OutboxCapacity bounds frames waiting for the writer goroutine.
	OutboxCapacity int `mapstructure:"outbox_capacity"`
	// PoseRateBytes caps avatar pose traffic in bytes per second.
	PoseRateBytes int `mapstructure:"pose_rate_bytes"`
	// BodyFormat for game messages: cbor or json.
	BodyFormat string `mapstructure:"body_format"`
}

func (n *NetConfig) normalize() {
	if n.DialBackoffInitialMS <= 0 {
		n.DialBackoffInitialMS = 500
	}
	if n.DialBackoffMaxMS < n.DialBackoffInitialMS {
		n.DialBackoffMaxMS = n.DialBackoffInitialMS
	}
	if n.DialBackoffJitterMS < 0 {
		n.DialBackoffJitterMS = 0
	}
	if n.InboxCapacity <= 0 {
		n.InboxCapacity = 256
	}
	if n.OutboxCapacity <= 0 {
		n.OutboxCapacity = 256
	}
	switch n.BodyFormat {
	case "cbor", "json":
	default:
		n.BodyFormat = "cbor"
	}
}
