package temporalx

import (
	"time"

	"github.com/yungbote/layered-backend/internal/platform/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace bool
	NamespaceRetention    time.Duration

	// Activity retry policy for one job run. Engine steps retry on their own;
	// these retries cover process loss and errors the engine left resumable.
	ActivityMaxAttempts     int
	ActivityInitialInterval time.Duration
	ActivityMaxInterval     time.Duration
	ActivityTimeout         time.Duration
	HeartbeatTimeout        time.Duration

	WorkerConcurrency int
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "layered"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "layered"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		NamespaceRetention:    time.Duration(clampInt(envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7), 1, 365)) * 24 * time.Hour,

		ActivityMaxAttempts:     envutil.Int("TEMPORAL_ACTIVITY_MAX_ATTEMPTS", 5),
		ActivityInitialInterval: envutil.Duration("TEMPORAL_ACTIVITY_INITIAL_INTERVAL", 10*time.Second),
		ActivityMaxInterval:     envutil.Duration("TEMPORAL_ACTIVITY_MAX_INTERVAL", 5*time.Minute),
		ActivityTimeout:         envutil.Duration("TEMPORAL_ACTIVITY_TIMEOUT", 30*time.Minute),
		HeartbeatTimeout:        envutil.Duration("TEMPORAL_HEARTBEAT_TIMEOUT", 45*time.Second),

		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 4),
	}
}

func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) mtls() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
