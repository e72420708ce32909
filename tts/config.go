package tts

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all pipeline configuration options.
type Config struct {
	// Synthesis API credentials
	APIKey    string `yaml:"api_key" env:"SPEAKSTREAM_API_KEY"`
	SecretKey string `yaml:"secret_key" env:"SPEAKSTREAM_SECRET_KEY"`

	// Voice parameters sent with every synthesis request
	Language    string `yaml:"language" env:"SPEAKSTREAM_LANGUAGE" envDefault:"zh"`
	Speed       int    `yaml:"speed" env:"SPEAKSTREAM_SPEED" envDefault:"5"`
	Pitch       int    `yaml:"pitch" env:"SPEAKSTREAM_PITCH" envDefault:"5"`
	Volume      int    `yaml:"volume" env:"SPEAKSTREAM_VOLUME" envDefault:"10"`
	Voice       int    `yaml:"voice" env:"SPEAKSTREAM_VOICE" envDefault:"0"`
	AudioFormat int    `yaml:"audio_format" env:"SPEAKSTREAM_AUDIO_FORMAT" envDefault:"4"`

	// Audio output settings
	SampleRate     int     `yaml:"sample_rate" env:"SPEAKSTREAM_SAMPLE_RATE" envDefault:"16000"`
	PlaybackVolume float64 `yaml:"playback_volume" env:"SPEAKSTREAM_PLAYBACK_VOLUME" envDefault:"0.8"`

	// Queue sizing
	RawQueueSize      int `yaml:"raw_queue_size" env:"SPEAKSTREAM_RAW_QUEUE_SIZE" envDefault:"20"`
	SentenceQueueSize int `yaml:"sentence_queue_size" env:"SPEAKSTREAM_SENTENCE_QUEUE_SIZE" envDefault:"10"`
	MaxFragmentLen    int `yaml:"max_fragment_len" env:"SPEAKSTREAM_MAX_FRAGMENT_LEN" envDefault:"256"`
	SegmentBufferSize int `yaml:"segment_buffer_size" env:"SPEAKSTREAM_SEGMENT_BUFFER_SIZE" envDefault:"512"`

	// Stage timing
	PushTimeout   time.Duration `yaml:"push_timeout" env:"SPEAKSTREAM_PUSH_TIMEOUT" envDefault:"5s"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"SPEAKSTREAM_POLL_INTERVAL" envDefault:"100ms"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"SPEAKSTREAM_SHUTDOWN_GRACE" envDefault:"1s"`

	// Playback synchronization
	ChunkSize   int           `yaml:"chunk_size" env:"SPEAKSTREAM_CHUNK_SIZE" envDefault:"1024"`
	DrainMargin time.Duration `yaml:"drain_margin" env:"SPEAKSTREAM_DRAIN_MARGIN" envDefault:"500ms"`

	// Remote request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SPEAKSTREAM_REQUEST_TIMEOUT" envDefault:"30s"`

	// Audio cache
	CacheEnabled  bool  `yaml:"cache_enabled" env:"SPEAKSTREAM_CACHE_ENABLED" envDefault:"true"`
	CacheCapacity int64 `yaml:"cache_capacity" env:"SPEAKSTREAM_CACHE_CAPACITY" envDefault:"8388608"`

	// Debug logging
	Debug bool `yaml:"debug" env:"SPEAKSTREAM_DEBUG" envDefault:"false"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Language:    "zh",
		Speed:       5,
		Pitch:       5,
		Volume:      10,
		Voice:       0,
		AudioFormat: 4,

		SampleRate:     16000,
		PlaybackVolume: 0.8,

		RawQueueSize:      20,
		SentenceQueueSize: 10,
		MaxFragmentLen:    256,
		SegmentBufferSize: 512,

		PushTimeout:   5 * time.Second,
		PollInterval:  100 * time.Millisecond,
		ShutdownGrace: time.Second,

		ChunkSize:   1024,
		DrainMargin: 500 * time.Millisecond,

		RequestTimeout: 30 * time.Second,

		CacheEnabled:  true,
		CacheCapacity: 8 << 20,
	}
}

// LoadConfigFromEnv returns the default configuration overlaid with any
// SPEAKSTREAM_* environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.SecretKey == "" {
		return ErrMissingSecret
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.RawQueueSize <= 0 || c.SentenceQueueSize <= 0 {
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalidConfig)
	}
	// A fragment must be able to hold at least one UTF-8 character.
	if c.MaxFragmentLen < 4 {
		return fmt.Errorf("%w: max fragment length must be at least 4 bytes, got %d", ErrInvalidConfig, c.MaxFragmentLen)
	}
	if c.SegmentBufferSize < c.MaxFragmentLen {
		return fmt.Errorf("%w: segment buffer (%d) must hold at least one fragment (%d)",
			ErrInvalidConfig, c.SegmentBufferSize, c.MaxFragmentLen)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.PushTimeout <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.PlaybackVolume < 0 || c.PlaybackVolume > 1 {
		return fmt.Errorf("%w: playback volume must be in [0,1], got %v", ErrInvalidConfig, c.PlaybackVolume)
	}
	if c.CacheEnabled && c.CacheCapacity <= 0 {
		return fmt.Errorf("%w: cache capacity must be positive when the cache is enabled", ErrInvalidConfig)
	}
	return nil
}
