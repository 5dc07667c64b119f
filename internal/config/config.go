package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	TTS           TTSConfig           `yaml:"tts"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains WebSocket server configuration
type ServerConfig struct {
	Port               int    `yaml:"port"`
	BindAddress        string `yaml:"bind_address"`
	MaxSessions        int    `yaml:"max_sessions"`
	SessionIdleTimeout int    `yaml:"session_idle_timeout"` // seconds
	ReadBufferSize     int    `yaml:"read_buffer_size"`
	WriteBufferSize    int    `yaml:"write_buffer_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio ingestion parameters
type AudioConfig struct {
	SampleRate          int     `yaml:"sample_rate"`
	Format              string  `yaml:"format"`                // expected fragment container
	ByteRate            int     `yaml:"byte_rate"`             // bytes per second for duration estimates
	ChunkDuration       float64 `yaml:"chunk_duration"`        // seconds, fixed-window mode
	MaxBufferDuration   float64 `yaml:"max_buffer_duration"`   // seconds, hard cap
	MinFragmentDuration float64 `yaml:"min_fragment_duration"` // seconds, admission floor
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	Enabled              bool    `yaml:"enabled"`
	SilenceThresholdMs   int     `yaml:"silence_threshold_ms"`
	MaxUtteranceDuration float64 `yaml:"max_utterance_duration"` // seconds
	RMSSilenceThreshold  float64 `yaml:"rms_silence_threshold"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
}

// TTSConfig contains speech synthesis API configuration
type TTSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Timeout  int    `yaml:"timeout"` // seconds
	Voice    string `yaml:"voice"`
	Format   string `yaml:"format"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with working defaults for every
// section except the transcription endpoint, which has no safe default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			BindAddress:        "0.0.0.0",
			MaxSessions:        1000,
			SessionIdleTimeout: 300,
			ReadBufferSize:     4096,
			WriteBufferSize:    4096,
		},
		HTTP: HTTPConfig{
			Port:    8081,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:          16000,
			Format:              "ogg",
			ByteRate:            3200,
			ChunkDuration:       3.0,
			MaxBufferDuration:   60.0,
			MinFragmentDuration: 0.1,
		},
		VAD: VADConfig{
			Enabled:              true,
			SilenceThresholdMs:   1000,
			MaxUtteranceDuration: 6.0,
			RMSSilenceThreshold:  0.01,
		},
		Transcription: TranscriptionConfig{
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 10,
		},
		TTS: TTSConfig{
			Timeout: 30,
			Format:  "wav",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnvOverrides lets secrets and endpoints come from the environment
// so they stay out of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VOICE_TRANSCRIPTION_ENDPOINT"); v != "" {
		c.Transcription.Endpoint = v
	}
	if v := os.Getenv("VOICE_TRANSCRIPTION_API_KEY"); v != "" {
		c.Transcription.APIKey = v
	}
	if v := os.Getenv("VOICE_TTS_ENDPOINT"); v != "" {
		c.TTS.Endpoint = v
	}
	if v := os.Getenv("VOICE_TTS_API_KEY"); v != "" {
		c.TTS.APIKey = v
	}
	if v := os.Getenv("VOICE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	if s.SessionIdleTimeout < 1 {
		return fmt.Errorf("session_idle_timeout must be at least 1 second, got %d", s.SessionIdleTimeout)
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

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	validFormats := map[string]bool{"ogg": true, "wav": true}
	if !validFormats[a.Format] {
		return fmt.Errorf("format must be 'ogg' or 'wav', got '%s'", a.Format)
	}

	if a.ByteRate < 1 {
		return fmt.Errorf("byte_rate must be positive, got %d", a.ByteRate)
	}

	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	if a.MaxBufferDuration <= a.ChunkDuration {
		return fmt.Errorf("max_buffer_duration (%f) must be greater than chunk_duration (%f)",
			a.MaxBufferDuration, a.ChunkDuration)
	}

	if a.MinFragmentDuration < 0 {
		return fmt.Errorf("min_fragment_duration cannot be negative, got %f", a.MinFragmentDuration)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.SilenceThresholdMs < 1 {
		return fmt.Errorf("silence_threshold_ms must be at least 1, got %d", v.SilenceThresholdMs)
	}

	if v.MaxUtteranceDuration <= 0 {
		return fmt.Errorf("max_utterance_duration must be positive, got %f", v.MaxUtteranceDuration)
	}

	if v.RMSSilenceThreshold < 0 || v.RMSSilenceThreshold > 1 {
		return fmt.Errorf("rms_silence_threshold must be between 0 and 1, got %f", v.RMSSilenceThreshold)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
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

// Validate validates TTS configuration
func (t *TTSConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when TTS is enabled")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
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

	return nil
}

// GetSessionIdleTimeout returns the session idle timeout as a time.Duration
func (s *ServerConfig) GetSessionIdleTimeout() time.Duration {
	return time.Duration(s.SessionIdleTimeout) * time.Second
}

// GetSilenceThreshold returns the silence threshold as a time.Duration
func (v *VADConfig) GetSilenceThreshold() time.Duration {
	return time.Duration(v.SilenceThresholdMs) * time.Millisecond
}

// GetMaxUtteranceDuration returns the utterance cap as a time.Duration
func (v *VADConfig) GetMaxUtteranceDuration() time.Duration {
	return time.Duration(v.MaxUtteranceDuration * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the TTS timeout as a time.Duration
func (t *TTSConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
