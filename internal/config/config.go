package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http" toml:"http"`
	Capture       CaptureConfig       `yaml:"capture" toml:"capture"`
	Sequencer     SequencerConfig     `yaml:"sequencer" toml:"sequencer"`
	Upload        UploadConfig        `yaml:"upload" toml:"upload"`
	LocalStore    LocalStoreConfig    `yaml:"local_store" toml:"local_store"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Redis         RedisConfig         `yaml:"redis" toml:"redis"`
	Events        EventsConfig        `yaml:"events" toml:"events"`
	Reassembly    ReassemblyConfig    `yaml:"reassembly" toml:"reassembly"`
	Transcription TranscriptionConfig `yaml:"transcription" toml:"transcription"`
	Client        ClientConfig        `yaml:"client" toml:"client"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port" toml:"port"`
	Address      string `yaml:"address" toml:"address"`
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	ReadTimeout  int    `yaml:"read_timeout" toml:"read_timeout"`     // seconds
	WriteTimeout int    `yaml:"write_timeout" toml:"write_timeout"`   // seconds
	MaxChunkSize int64  `yaml:"max_chunk_size" toml:"max_chunk_size"` // bytes
}

// CaptureConfig contains audio capture parameters
type CaptureConfig struct {
	ChunkDuration    float64 `yaml:"chunk_duration" toml:"chunk_duration"`         // seconds
	StopFlushTimeout float64 `yaml:"stop_flush_timeout" toml:"stop_flush_timeout"` // seconds
	SampleRate       int     `yaml:"sample_rate" toml:"sample_rate"`
	Channels         int     `yaml:"channels" toml:"channels"`
	FrameSize        int     `yaml:"frame_size" toml:"frame_size"` // samples per channel
	MicGain          float64 `yaml:"mic_gain" toml:"mic_gain"`
	SecondaryGain    float64 `yaml:"secondary_gain" toml:"secondary_gain"`
}

// SequencerConfig contains chunk index tolerance configuration
type SequencerConfig struct {
	InitialTolerance int    `yaml:"initial_tolerance" toml:"initial_tolerance"`
	AheadTolerance   int    `yaml:"ahead_tolerance" toml:"ahead_tolerance"`
	BehindTolerance  int    `yaml:"behind_tolerance" toml:"behind_tolerance"`
	Tracker          string `yaml:"tracker" toml:"tracker"` // memory or redis
}

// UploadConfig contains client-side upload configuration
type UploadConfig struct {
	MaxParallel    int `yaml:"max_parallel" toml:"max_parallel"`
	DrainTimeout   int `yaml:"drain_timeout" toml:"drain_timeout"`     // seconds
	RequestTimeout int `yaml:"request_timeout" toml:"request_timeout"` // seconds
	MaxRetries     int `yaml:"max_retries" toml:"max_retries"`
}

// LocalStoreConfig contains local chunk cache configuration
type LocalStoreConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DatabaseConfig contains durable storage configuration. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// RedisConfig contains the shared sequencer tracker configuration
type RedisConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Password  string `yaml:"password" toml:"password"`
	DB        int    `yaml:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
	TTL       int    `yaml:"ttl" toml:"ttl"` // seconds
}

// EventsConfig contains event publication configuration. An empty URL disables publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" toml:"nats_url"`
	Token         string `yaml:"token" toml:"token"`
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix"`
}

// ReassemblyConfig contains reassembly configuration
type ReassemblyConfig struct {
	StreamingThreshold int `yaml:"streaming_threshold" toml:"streaming_threshold"`
}

// TranscriptionConfig contains speech-to-text API configuration. An empty endpoint
// disables transcription.
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint" toml:"endpoint"`
	APIKey        string `yaml:"api_key" toml:"api_key"`
	Timeout       int    `yaml:"timeout" toml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries" toml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent" toml:"max_concurrent"`
	Language      string `yaml:"language" toml:"language"`
	Model         string `yaml:"model" toml:"model"`
}

// ClientConfig contains the recorder's connection to the chunk service
type ClientConfig struct {
	ServerURL string `yaml:"server_url" toml:"server_url"`
	Principal string `yaml:"principal" toml:"principal"`
	Timeout   int    `yaml:"timeout" toml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	Output     string `yaml:"output" toml:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// Default returns a complete, valid configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         8080,
			Address:      "0.0.0.0",
			Enabled:      true,
			ReadTimeout:  30,
			WriteTimeout: 300,
			MaxChunkSize: 32 << 20,
		},
		Capture: CaptureConfig{
			ChunkDuration:    30,
			StopFlushTimeout: 2,
			SampleRate:       16000,
			Channels:         1,
			FrameSize:        1024,
			MicGain:          1.0,
			SecondaryGain:    1.0,
		},
		Sequencer: SequencerConfig{
			InitialTolerance: 5,
			AheadTolerance:   6,
			BehindTolerance:  1,
			Tracker:          "memory",
		},
		Upload: UploadConfig{
			MaxParallel:    2,
			DrainTimeout:   10,
			RequestTimeout: 60,
			MaxRetries:     3,
		},
		LocalStore: LocalStoreConfig{
			Enabled: true,
			Path:    "chunkrec-cache.db",
		},
		Redis: RedisConfig{
			KeyPrefix: "chunkrec:",
			TTL:       86400,
		},
		Events: EventsConfig{
			SubjectPrefix: "chunkrec",
		},
		Reassembly: ReassemblyConfig{
			StreamingThreshold: 50,
		},
		Transcription: TranscriptionConfig{
			Timeout:       300,
			MaxRetries:    3,
			MaxConcurrent: 2,
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:8080",
			Timeout:   30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and parses the configuration file over the defaults. An empty path
// returns the defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(string(data), config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("CHUNKREC_DATABASE_URL", &c.Database.URL)
	if v, ok := lookup("CHUNKREC_REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
		c.Sequencer.Tracker = "redis"
	}
	str("CHUNKREC_NATS_URL", &c.Events.NATSURL)
	str("CHUNKREC_STT_ENDPOINT", &c.Transcription.Endpoint)
	str("CHUNKREC_STT_API_KEY", &c.Transcription.APIKey)
	str("CHUNKREC_SERVER_URL", &c.Client.ServerURL)
	str("CHUNKREC_PRINCIPAL", &c.Client.Principal)
	str("CHUNKREC_LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("CHUNKREC_HTTP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Sequencer.Validate(); err != nil {
		return fmt.Errorf("sequencer config: %w", err)
	}

	if c.Sequencer.Tracker == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("sequencer config: redis tracker requires redis.addr")
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if c.LocalStore.Enabled && c.LocalStore.Path == "" {
		return fmt.Errorf("local_store config: path cannot be empty when enabled")
	}

	if c.Reassembly.StreamingThreshold < 1 {
		return fmt.Errorf("reassembly config: streaming_threshold must be at least 1, got %d", c.Reassembly.StreamingThreshold)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.MaxChunkSize < 0 {
		return fmt.Errorf("max_chunk_size cannot be negative, got %d", h.MaxChunkSize)
	}

	return nil
}

// Validate validates capture configuration
func (a *CaptureConfig) Validate() error {
	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	if a.StopFlushTimeout <= 0 {
		return fmt.Errorf("stop_flush_timeout must be positive, got %f", a.StopFlushTimeout)
	}

	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.FrameSize < 64 {
		return fmt.Errorf("frame_size must be at least 64 samples, got %d", a.FrameSize)
	}

	if a.MicGain < 0 || a.SecondaryGain < 0 {
		return fmt.Errorf("gains cannot be negative, got mic %f secondary %f", a.MicGain, a.SecondaryGain)
	}

	return nil
}

// Validate validates sequencer configuration
func (s *SequencerConfig) Validate() error {
	if s.InitialTolerance < 0 {
		return fmt.Errorf("initial_tolerance cannot be negative, got %d", s.InitialTolerance)
	}

	if s.AheadTolerance < 1 {
		return fmt.Errorf("ahead_tolerance must be at least 1, got %d", s.AheadTolerance)
	}

	if s.BehindTolerance < 0 {
		return fmt.Errorf("behind_tolerance cannot be negative, got %d", s.BehindTolerance)
	}

	validTrackers := map[string]bool{"memory": true, "redis": true}
	if !validTrackers[s.Tracker] {
		return fmt.Errorf("tracker must be 'memory' or 'redis', got '%s'", s.Tracker)
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if u.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", u.MaxParallel)
	}

	if u.DrainTimeout < 1 {
		return fmt.Errorf("drain_timeout must be at least 1 second, got %d", u.DrainTimeout)
	}

	if u.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative, got %d", u.RequestTimeout)
	}

	if u.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", u.MaxRetries)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return nil
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Enabled reports whether a speech-to-text endpoint is configured
func (t *TranscriptionConfig) Enabled() bool {
	return t.Endpoint != ""
}

// GetChunkDuration returns the nominal chunk duration as a time.Duration
func (a *CaptureConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetStopFlushTimeout returns the final flush timeout as a time.Duration
func (a *CaptureConfig) GetStopFlushTimeout() time.Duration {
	return time.Duration(a.StopFlushTimeout * float64(time.Second))
}

// GetDrainTimeoutDuration returns the upload drain timeout as a time.Duration
func (u *UploadConfig) GetDrainTimeoutDuration() time.Duration {
	return time.Duration(u.DrainTimeout) * time.Second
}

// GetRequestTimeoutDuration returns the per-upload timeout as a time.Duration
func (u *UploadConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(u.RequestTimeout) * time.Second
}

// GetTTLDuration returns the tracker key TTL as a time.Duration
func (r *RedisConfig) GetTTLDuration() time.Duration {
	return time.Duration(r.TTL) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the chunk service request timeout as a time.Duration
func (c *ClientConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetReadTimeoutDuration returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}
