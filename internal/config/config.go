// Package config loads the recorder configuration from a YAML file plus
// IONIA_-prefixed environment variables.
package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Video     VideoConfig     `mapstructure:"video"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Log       LogConfig       `mapstructure:"log"`
}

type VideoConfig struct {
	Width          int    `mapstructure:"width"`
	Height         int    `mapstructure:"height"`
	FrameRate      int    `mapstructure:"frame_rate"`
	Bitrate        int    `mapstructure:"bitrate"`
	Quality        string `mapstructure:"quality"`
	PreferHardware bool   `mapstructure:"prefer_hardware_encoder"`
}

type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	Bitrate    int    `mapstructure:"bitrate"`
	Sources    string `mapstructure:"sources"`
}

// Audio source selection. Exactly one of these values is valid; a recording
// without any audio track is not a supported output.
const (
	SourcesDesktop    = "desktop"
	SourcesMicrophone = "microphone"
	SourcesBoth       = "both"
)

type BufferConfig struct {
	MaxPackets   int `mapstructure:"max_packets"`
	MaxLatencyMs int `mapstructure:"max_latency_ms"`
}

type ReconnectConfig struct {
	InitialBackoffMs int     `mapstructure:"initial_backoff_ms"`
	BackoffFactor    float64 `mapstructure:"backoff_factor"`
	MaxBackoffMs     int     `mapstructure:"max_backoff_ms"`
	JitterFactor     float64 `mapstructure:"jitter_factor"`
	MaxRetries       int     `mapstructure:"max_retries"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func Default() *Config {
	return &Config{
		Video: VideoConfig{
			Width:          1280,
			Height:         720,
			FrameRate:      30,
			Bitrate:        2_500_000,
			Quality:        "auto",
			PreferHardware: true,
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			Channels:   2,
			Bitrate:    128_000,
			Sources:    SourcesBoth,
		},
		Buffer: BufferConfig{
			MaxPackets:   100,
			MaxLatencyMs: 2000,
		},
		Reconnect: ReconnectConfig{
			InitialBackoffMs: 1000,
			BackoffFactor:    2.0,
			MaxBackoffMs:     30000,
			JitterFactor:     0.3,
			MaxRetries:       10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("ionia")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("IONIA")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
