package config

import "time"

// TransportConfig configures the HTTP and RPC transports.
type TransportConfig struct {
	BaseURL    string        `env:"SPOOLED_BASE_URL" required:"false"`
	GRPCTarget string        `env:"SPOOLED_GRPC_TARGET" required:"false"`
	Timeout    time.Duration `env:"SPOOLED_TIMEOUT" default:"30s" required:"false"`
}

// RetryConfig configures retry.Policy.
type RetryConfig struct {
	MaxRetries int           `env:"SPOOLED_RETRY_MAX" default:"3" required:"false"`
	BaseDelay  time.Duration `env:"SPOOLED_RETRY_BASE_DELAY" default:"200ms" required:"false"`
	MaxDelay   time.Duration `env:"SPOOLED_RETRY_MAX_DELAY" default:"30s" required:"false"`
	Factor     float64
	Jitter     float64
}

// CircuitConfig configures breaker.Breaker.
type CircuitConfig struct {
	Enabled          bool          `env:"SPOOLED_CIRCUIT_ENABLED" default:"true" required:"false"`
	FailureThreshold int           `env:"SPOOLED_CIRCUIT_FAILURE_THRESHOLD" default:"5" required:"false"`
	SuccessThreshold int           `env:"SPOOLED_CIRCUIT_SUCCESS_THRESHOLD" default:"2" required:"false"`
	Cooldown         time.Duration `env:"SPOOLED_CIRCUIT_COOLDOWN" default:"10s" required:"false"`
}

// WorkerConfig configures a worker.Runtime.
type WorkerConfig struct {
	QueueName         string        `env:"SPOOLED_WORKER_QUEUE" required:"false"`
	Concurrency       int           `env:"SPOOLED_WORKER_CONCURRENCY" default:"5" required:"false"`
	HeartbeatInterval time.Duration `env:"SPOOLED_WORKER_HEARTBEAT_INTERVAL" default:"15s" required:"false"`
	LeaseDuration     time.Duration `env:"SPOOLED_WORKER_LEASE_DURATION" default:"30s" required:"false"`
	PollInterval      time.Duration `env:"SPOOLED_WORKER_POLL_INTERVAL" default:"1s" required:"false"`
	DrainTimeout      time.Duration `env:"SPOOLED_WORKER_DRAIN_TIMEOUT" default:"30s" required:"false"`
}

// RealtimeConfig configures a realtime.Subscription.
type RealtimeConfig struct {
	PushURL       string        `env:"SPOOLED_REALTIME_PUSH_URL" required:"false"`
	WebsocketURL  string        `env:"SPOOLED_REALTIME_WS_URL" required:"false"`
	ReconnectBase time.Duration `env:"SPOOLED_REALTIME_RECONNECT_BASE" default:"500ms" required:"false"`
	ReconnectMax  time.Duration `env:"SPOOLED_REALTIME_RECONNECT_MAX" default:"30s" required:"false"`
}

// Credentials configures the static portion of an auth.CredentialSet loaded
// from the environment; AccessToken/RefreshToken are typically rotated at
// runtime rather than loaded here.
type Credentials struct {
	APIKey   string `env:"SPOOLED_API_KEY" required:"false"`
	AdminKey string `env:"SPOOLED_ADMIN_KEY" required:"false"`
}

// SDKConfig aggregates every configuration surface the SDK needs, assembled
// by Load from the SPOOLED_* environment variables.
type SDKConfig struct {
	Transport   TransportConfig
	Retry       RetryConfig
	Circuit     CircuitConfig
	Worker      WorkerConfig
	Realtime    RealtimeConfig
	Credentials Credentials
}

// Load reads every SPOOLED_* environment variable into an SDKConfig. Callers
// typically load this once at startup and then apply any programmatic
// overrides (e.g. a rotated access token) on top.
func Load() SDKConfig {
	return SDKConfig{
		Transport:   MustLoad[TransportConfig](),
		Retry:       loadRetryConfig(),
		Circuit:     MustLoad[CircuitConfig](),
		Worker:      MustLoad[WorkerConfig](),
		Realtime:    loadRealtimeConfig(),
		Credentials: MustLoad[Credentials](),
	}
}

// loadRetryConfig loads the env-backed fields of RetryConfig and fills in
// Factor/Jitter, which have no stable env-var convention across hosts and
// are expected to be set programmatically.
func loadRetryConfig() RetryConfig {
	cfg := MustLoad[RetryConfig]()
	cfg.Factor = 2
	cfg.Jitter = 0.2
	return cfg
}

// loadRealtimeConfig loads RealtimeConfig from its env-tagged fields. Every
// field of RealtimeConfig carries an env tag, so nothing is filled in
// afterwards.
func loadRealtimeConfig() RealtimeConfig {
	return MustLoad[RealtimeConfig]()
}
