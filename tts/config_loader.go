package tts

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfigFromViper loads pipeline configuration from Viper, layered on
// top of the environment-derived defaults.
func LoadConfigFromViper() (Config, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return cfg, err
	}

	// Credentials
	if viper.IsSet("tts.api_key") {
		cfg.APIKey = viper.GetString("tts.api_key")
	}
	if viper.IsSet("tts.secret_key") {
		cfg.SecretKey = viper.GetString("tts.secret_key")
	}

	// Voice parameters
	if viper.IsSet("tts.language") {
		cfg.Language = viper.GetString("tts.language")
	}
	if viper.IsSet("tts.speed") {
		cfg.Speed = viper.GetInt("tts.speed")
	}
	if viper.IsSet("tts.pitch") {
		cfg.Pitch = viper.GetInt("tts.pitch")
	}
	if viper.IsSet("tts.volume") {
		cfg.Volume = viper.GetInt("tts.volume")
	}
	if viper.IsSet("tts.voice") {
		cfg.Voice = viper.GetInt("tts.voice")
	}
	if viper.IsSet("tts.audio_format") {
		cfg.AudioFormat = viper.GetInt("tts.audio_format")
	}

	// Audio output
	if viper.IsSet("tts.sample_rate") {
		cfg.SampleRate = viper.GetInt("tts.sample_rate")
	}
	if viper.IsSet("tts.playback_volume") {
		cfg.PlaybackVolume = viper.GetFloat64("tts.playback_volume")
	}

	// Queues and timing
	if viper.IsSet("tts.raw_queue_size") {
		cfg.RawQueueSize = viper.GetInt("tts.raw_queue_size")
	}
	if viper.IsSet("tts.sentence_queue_size") {
		cfg.SentenceQueueSize = viper.GetInt("tts.sentence_queue_size")
	}
	if viper.IsSet("tts.push_timeout") {
		cfg.PushTimeout = viper.GetDuration("tts.push_timeout")
	}
	if viper.IsSet("tts.request_timeout") {
		cfg.RequestTimeout = viper.GetDuration("tts.request_timeout")
	}

	// Cache
	if viper.IsSet("tts.cache_enabled") {
		cfg.CacheEnabled = viper.GetBool("tts.cache_enabled")
	}
	if viper.IsSet("tts.cache_capacity") {
		cfg.CacheCapacity = viper.GetInt64("tts.cache_capacity")
	}

	if viper.IsSet("tts.debug") {
		cfg.Debug = viper.GetBool("tts.debug")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid TTS configuration: %w", err)
	}

	return cfg, nil
}
