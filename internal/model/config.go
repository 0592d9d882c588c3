package model

import "time"

// Config is the full runtime configuration
type Config struct {
	// Mode is "mock" or "production". Collaborators without their own
	// mode follow it (production selects live adapters).
	Mode       string           `yaml:"mode" mapstructure:"mode"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Activation ActivationConfig `yaml:"activation" mapstructure:"activation"`
	Payout     PayoutConfig     `yaml:"payout" mapstructure:"payout"`
	Juno       JunoConfig       `yaml:"juno" mapstructure:"juno"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Documents  DocumentsConfig  `yaml:"documents" mapstructure:"documents"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Proxy      ProxyConfig      `yaml:"proxy" mapstructure:"proxy"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	RateLimit       float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/sec per client IP
	RateBurst       int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the document store driver
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // file, memory, redis
	Path   string `yaml:"path" mapstructure:"path"`

	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	RedisKey      string `yaml:"redis_key" mapstructure:"redis_key"`
}

// ActivationConfig controls the pending→active sweep
type ActivationConfig struct {
	Delay    time.Duration `yaml:"delay" mapstructure:"delay"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
}

// PayoutConfig controls claim payout fan-out
type PayoutConfig struct {
	Workers      int    `yaml:"workers" mapstructure:"workers"`
	TokenAddress string `yaml:"token_address" mapstructure:"token_address"`
	Network      string `yaml:"network" mapstructure:"network"`
}

// JunoConfig configures the payment gateway
type JunoConfig struct {
	Mode      string        `yaml:"mode" mapstructure:"mode"` // mock, live, or empty to follow global mode
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	APISecret string        `yaml:"api_secret" mapstructure:"api_secret"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Latency   time.Duration `yaml:"latency" mapstructure:"latency"` // mock only
}

// RegistryConfig configures the smart-contract registry
type RegistryConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Mode            string        `yaml:"mode" mapstructure:"mode"`
	RPCURL          string        `yaml:"rpc_url" mapstructure:"rpc_url"`
	ContractAddress string        `yaml:"contract_address" mapstructure:"contract_address"`
	FromAddress     string        `yaml:"from_address" mapstructure:"from_address"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Latency         time.Duration `yaml:"latency" mapstructure:"latency"`
}

// DocumentsConfig configures claim evidence storage
type DocumentsConfig struct {
	Mode     string        `yaml:"mode" mapstructure:"mode"`
	Bucket   string        `yaml:"bucket" mapstructure:"bucket"`
	Region   string        `yaml:"region" mapstructure:"region"`
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint"`
	MaxBytes int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	Latency  time.Duration `yaml:"latency" mapstructure:"latency"`

	// VerificationTTL is how long a verification id can be used to file a claim
	VerificationTTL time.Duration `yaml:"verification_ttl" mapstructure:"verification_ttl"`
}

// AuthConfig guards admin routes. Empty secret disables the check.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// LogConfig controls the logger
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ProxyConfig for outbound HTTP clients
type ProxyConfig struct {
	HTTP    string `yaml:"http" mapstructure:"http"`
	HTTPS   string `yaml:"https" mapstructure:"https"`
	NoProxy string `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Mode: "mock",
		Server: ServerConfig{
			Addr:            ":8080",
			MaxConnections:  256,
			RateLimit:       20,
			RateBurst:       40,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:   "file",
			Path:     "./data/database.json",
			RedisKey: "extralife:database",
		},
		Activation: ActivationConfig{
			Delay:    40 * time.Second,
			Interval: 5 * time.Second,
			Enabled:  true,
		},
		Payout: PayoutConfig{
			Workers: 4,
			Network: "ARBITRUM",
		},
		Juno: JunoConfig{
			BaseURL:   "https://stage.buildwithjuno.com/mint_platform/v1",
			Timeout:   30 * time.Second,
			RateLimit: 5,
			Latency:   500 * time.Millisecond,
		},
		Registry: RegistryConfig{
			RPCURL:  "http://127.0.0.1:8545",
			Timeout: 30 * time.Second,
			Latency: 500 * time.Millisecond,
		},
		Documents: DocumentsConfig{
			Region:   "us-east-1",
			MaxBytes:        10 << 20,
			Latency:         500 * time.Millisecond,
			VerificationTTL: time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// CollaboratorMode resolves a per-collaborator mode against the global mode
func (c Config) CollaboratorMode(mode string) string {
	if mode != "" {
		return mode
	}
	if c.Mode == "production" {
		return "live"
	}
	return "mock"
}
