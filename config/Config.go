package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProductName     = "GSLS"
	Version         = "0.7.4"
	Build           = 30
	ProtocolVersion = 1

	DefaultDHTPort  = 4001
	DefaultRESTPort = 4002
)

// Config - Settings for one node: overlay tunables plus the daemon's network, storage
// and logging options. A Config is built once at startup and passed explicitly to
// every component that needs it.
type Config struct {
	K                                 int           `yaml:"k"`                                     //bucket size and replication target.
	Alpha                             int           `yaml:"alpha"`                                 //lookup parallelism.
	RequestTimeout                    time.Duration `yaml:"request_timeout"`                       //the max time to wait for a single peer to answer a single request.
	RequestRetries                    int           `yaml:"request_retries"`                       //the number of times a timed out request is re-sent before the peer is counted as failed.
	OperationTimeout                  time.Duration `yaml:"operation_timeout"`                     //the bound on a whole get/put/delete operation, lookup included. Callers cannot cancel the wait.
	MinPutAcks                        int           `yaml:"min_put_acks"`                          //the number of replica acknowledgements (self included) required for a put to succeed.
	ValueTTL                          time.Duration `yaml:"value_ttl"`                             //the lifetime of a stored value that is not republished.
	RepublishInterval                 time.Duration `yaml:"republish_interval"`                    //the interval at which locally held values are re-stored to their current K closest peers.
	JanitorInterval                   time.Duration `yaml:"janitor_interval"`                      //the interval at which expired values are dropped from the local store.
	BucketRefreshInterval             time.Duration `yaml:"bucket_refresh_interval"`               //buckets not touched for this long are refreshed by a lookup of a random id in their range.
	BucketRefreshBatchSize            int           `yaml:"bucket_refresh_batch_size"`             //the number of bucket refresh lookups to run in a single batch.
	BucketRefreshBatchDelayInterval   time.Duration `yaml:"bucket_refresh_batch_delay_interval"`   //the pause between batches of bucket refresh lookups.
	StaleAfterFailures                int           `yaml:"stale_after_failures"`                  //consecutive request failures after which a peer is pruned from the routing table.
	UseProtobuf                       bool          `yaml:"use_protobuf"`                          //selects the protobuf wire codec over JSON.
	OutboundQueueWorkerCount          int           `yaml:"outbound_queue_worker_count"`           //the number of workers draining the transport's outbound queue.
	PooledConnectionIdleTimeout       time.Duration `yaml:"pooled_connection_idle_timeout"`        //the duration after which idle pooled connections are closed.
	PooledConnectionIdleCheckInterval time.Duration `yaml:"pooled_connection_idle_check_interval"` //the interval at which the transport checks for idle connections.
	InboundRatePerSecond              float64       `yaml:"inbound_rate_per_second"`               //sustained inbound request rate allowed per remote host.
	InboundBurst                      int           `yaml:"inbound_burst"`                         //inbound request burst allowed per remote host.
	RateLimiterCacheSize              int           `yaml:"rate_limiter_cache_size"`               //the number of remote hosts whose limiters are retained.
	VerificationCacheSize             int           `yaml:"verification_cache_size"`               //the number of verified envelopes remembered by the record store.
	AllowRemoteDelete                 bool          `yaml:"allow_remote_delete"`                   //lets peers delete values held by this node. Off by default.

	ListenHost            string        `yaml:"listen_host"`             //the interface address both listeners bind to. Empty binds all interfaces.
	DHTPort               int           `yaml:"dht_port"`                //the overlay listen port.
	RESTPort              int           `yaml:"rest_port"`               //the REST listen port.
	ConnectNode           string        `yaml:"connect_node"`            //host:port of the entry node used for bootstrap and reconnect. Empty starts a new network.
	DataDir               string        `yaml:"data_dir"`                //directory of the persistent replica store. Empty keeps replicas in memory.
	LogPath               string        `yaml:"log_path"`                //directory the daemon writes its log file to. Empty logs to stdout only.
	LogLevel              string        `yaml:"log_level"`               //debug, info, warn or error.
	LogJSON               bool          `yaml:"log_json"`                //selects JSON log output.
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"` //the delay before the first scheduled reconnect.
	ReconnectInterval     time.Duration `yaml:"reconnect_interval"`      //the interval between scheduled reconnects.
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`        //the bound on graceful shutdown of the REST server.
}

// DefaultConfig - Returns a Config populated with the default settings.
func DefaultConfig() Config {
	return Config{
		K:                                 20,
		Alpha:                             3,
		RequestTimeout:                    1500 * time.Millisecond,
		RequestRetries:                    2,
		OperationTimeout:                  10 * time.Second,
		MinPutAcks:                        1,
		ValueTTL:                          24 * time.Hour,
		RepublishInterval:                 time.Hour,
		JanitorInterval:                   time.Minute,
		BucketRefreshInterval:             15 * time.Minute,
		BucketRefreshBatchSize:            10,
		BucketRefreshBatchDelayInterval:   10 * time.Second,
		StaleAfterFailures:                3,
		UseProtobuf:                       true,
		OutboundQueueWorkerCount:          4,
		PooledConnectionIdleTimeout:       3 * time.Minute,
		PooledConnectionIdleCheckInterval: time.Minute,
		InboundRatePerSecond:              50,
		InboundBurst:                      100,
		RateLimiterCacheSize:              1024,
		VerificationCacheSize:             4096,

		DHTPort:               DefaultDHTPort,
		RESTPort:              DefaultRESTPort,
		LogPath:               "logs",
		LogLevel:              "info",
		ReconnectInitialDelay: 2 * time.Minute,
		ReconnectInterval:     time.Hour,
		ShutdownTimeout:       5 * time.Second,
	}
}

// LoadFile - Reads a YAML document and overlays it onto the defaults. Keys absent from
// the document keep their default values.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

var ErrInvalid = errors.New("config: invalid")

// Validate - Checks that every tunable is usable.
func (c Config) Validate() error {
	check := func(ok bool, format string, args ...any) error {
		if ok {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	return errors.Join(
		check(c.K > 0, "k must be positive, got %d", c.K),
		check(c.Alpha > 0, "alpha must be positive, got %d", c.Alpha),
		check(c.RequestTimeout > 0, "request_timeout must be positive"),
		check(c.RequestRetries >= 0, "request_retries must not be negative"),
		check(c.OperationTimeout >= c.RequestTimeout, "operation_timeout must be at least request_timeout"),
		check(c.MinPutAcks > 0 && c.MinPutAcks <= c.K, "min_put_acks must be in [1, k], got %d", c.MinPutAcks),
		check(c.ValueTTL > 0, "value_ttl must be positive"),
		check(c.RepublishInterval > 0, "republish_interval must be positive"),
		check(c.JanitorInterval > 0, "janitor_interval must be positive"),
		check(c.BucketRefreshInterval > 0, "bucket_refresh_interval must be positive"),
		check(c.BucketRefreshBatchSize > 0, "bucket_refresh_batch_size must be positive"),
		check(c.StaleAfterFailures > 0, "stale_after_failures must be positive"),
		check(c.OutboundQueueWorkerCount > 0, "outbound_queue_worker_count must be positive"),
		check(c.InboundRatePerSecond > 0 && c.InboundBurst > 0, "inbound rate and burst must be positive"),
		check(c.RateLimiterCacheSize > 0, "rate_limiter_cache_size must be positive"),
		check(c.VerificationCacheSize > 0, "verification_cache_size must be positive"),
		check(c.DHTPort >= 0 && c.DHTPort < 65536, "dht_port out of range: %d", c.DHTPort),
		check(c.RESTPort >= 0 && c.RESTPort < 65536, "rest_port out of range: %d", c.RESTPort),
		check(c.ReconnectInterval > 0, "reconnect_interval must be positive"),
	)
}
