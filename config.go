package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	backendWhisper = "whisper"
	backendOpenAI  = "openai"

	outputPaste  = "paste"
	outputType   = "type"
	outputTmux   = "tmux"
	outputStdout = "stdout"
)

// Config is the on-disk configuration at ~/.config/dictate/config.yaml
type Config struct {
	Model         string        `yaml:"model"`
	Language      string        `yaml:"language"`
	Backend       string        `yaml:"backend"`
	OpenAIModel   string        `yaml:"openai_model"`
	OpenAIBaseURL string        `yaml:"openai_base_url,omitempty"`
	Audio         AudioConfig   `yaml:"audio"`
	VAD           VADConfig     `yaml:"vad"`
	Output        OutputConfig  `yaml:"output"`
	History       HistoryConfig `yaml:"history"`
	QueueSize     int           `yaml:"queue_size"`
}

type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BlockSize  int    `yaml:"block_size"`
	Device     string `yaml:"device,omitempty"`
}

type VADConfig struct {
	ThresholdMultiplier float64       `yaml:"threshold_multiplier"`
	MinThreshold        float64       `yaml:"min_threshold"`
	Threshold           float64       `yaml:"threshold,omitempty"` // > 0 skips calibration
	Calibration         time.Duration `yaml:"calibration"`
	Silence             time.Duration `yaml:"silence"`
	MinSpeech           time.Duration `yaml:"min_speech"`
	MaxSpeech           time.Duration `yaml:"max_speech"`
}

type OutputConfig struct {
	Mode          string `yaml:"mode"`
	PasteKeys     string `yaml:"paste_keys"`
	TrailingSpace bool   `yaml:"trailing_space"`
	TmuxTarget    string `yaml:"tmux_target,omitempty"`
}

type HistoryConfig struct {
	Enabled   bool `yaml:"enabled"`
	KeepAudio bool `yaml:"keep_audio"`
}

func defaultConfig() *Config {
	return &Config{
		Model:       "small", // noticeably better than base for non-English speech
		Backend:     backendWhisper,
		OpenAIModel: "whisper-1",
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BlockSize:  1024,
		},
		VAD: VADConfig{
			ThresholdMultiplier: 2.0,
			MinThreshold:        0.001,
			Calibration:         2 * time.Second,
			Silence:             2 * time.Second,
			MinSpeech:           500 * time.Millisecond,
			MaxSpeech:           30 * time.Second,
		},
		Output: OutputConfig{
			Mode:          outputPaste,
			PasteKeys:     "ctrl+v",
			TrailingSpace: true,
		},
		History:   HistoryConfig{Enabled: true},
		QueueSize: 8,
	}
}

// configPathOverride is set by the --config flag
var configPathOverride string

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "dictate")
}

func getConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}
	if p := os.Getenv("DICTATE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(configDir(), "config.yaml")
}

// cacheDir holds models, recordings and the history database
func cacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "dictate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "dictate")
}

func configExists() bool {
	_, err := os.Stat(getConfigPath())
	return err == nil
}

// loadEnv reads .env from the working directory and the config dir.
// Variables already present in the environment win.
func loadEnv() {
	for _, p := range []string{".env", filepath.Join(configDir(), ".env")} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to load env file", zap.String("path", p), zap.Error(err))
		}
	}
}

// loadConfig returns defaults when no config file exists
func loadConfig() (*Config, error) {
	config, err := readConfigFile(getConfigPath())
	if err != nil {
		return nil, err
	}
	applyEnv(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func readConfigFile(path string) (*Config, error) {
	config := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	config.applyDefaults()
	return config, nil
}

// applyDefaults replaces zero values written explicitly in the file. Bools,
// language, device, tmux target and the fixed threshold keep their zero
// meaning.
func (c *Config) applyDefaults() {
	d := defaultConfig()
	str := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	num := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	float := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	dur := func(v *time.Duration, def time.Duration) {
		if *v == 0 {
			*v = def
		}
	}

	str(&c.Model, d.Model)
	str(&c.Backend, d.Backend)
	str(&c.OpenAIModel, d.OpenAIModel)
	str(&c.Output.Mode, d.Output.Mode)
	str(&c.Output.PasteKeys, d.Output.PasteKeys)
	num(&c.Audio.SampleRate, d.Audio.SampleRate)
	num(&c.Audio.Channels, d.Audio.Channels)
	num(&c.Audio.BlockSize, d.Audio.BlockSize)
	num(&c.QueueSize, d.QueueSize)
	float(&c.VAD.ThresholdMultiplier, d.VAD.ThresholdMultiplier)
	float(&c.VAD.MinThreshold, d.VAD.MinThreshold)
	dur(&c.VAD.Calibration, d.VAD.Calibration)
	dur(&c.VAD.Silence, d.VAD.Silence)
	dur(&c.VAD.MinSpeech, d.VAD.MinSpeech)
	dur(&c.VAD.MaxSpeech, d.VAD.MaxSpeech)
}

func applyEnv(config *Config) {
	if v := os.Getenv("DICTATE_MODEL"); v != "" {
		config.Model = v
	}
	if v := os.Getenv("DICTATE_LANGUAGE"); v != "" {
		config.Language = v
	}
	if v := os.Getenv("DICTATE_BACKEND"); v != "" {
		config.Backend = v
	}
	if v := os.Getenv("DICTATE_OUTPUT"); v != "" {
		config.Output.Mode = v
	}
}

// updateConfigFile changes the config file without the DICTATE_* and .env
// overrides, so they stay temporary
func updateConfigFile(mutate func(c *Config)) error {
	config, err := readConfigFile(getConfigPath())
	if err != nil {
		return err
	}
	mutate(config)
	if err := config.Validate(); err != nil {
		return err
	}
	return saveConfig(config)
}

func saveConfig(config *Config) error {
	path := getConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// TranscriptionModel is the model name the configured backend uses
func (c *Config) TranscriptionModel() string {
	if c.Backend == backendOpenAI {
		return c.OpenAIModel
	}
	return c.Model
}

func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Audio.SampleRate <= 0:
		return invalid("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	case c.Audio.BlockSize <= 0:
		return invalid("audio.block_size must be positive, got %d", c.Audio.BlockSize)
	case c.Audio.Channels < 1:
		return invalid("audio.channels must be at least 1, got %d", c.Audio.Channels)
	case c.VAD.ThresholdMultiplier <= 0:
		return invalid("vad.threshold_multiplier must be positive")
	case c.VAD.Silence <= 0:
		return invalid("vad.silence must be positive")
	case c.VAD.Calibration <= 0:
		return invalid("vad.calibration must be positive")
	case c.VAD.Threshold < 0 || c.VAD.MinThreshold < 0:
		return invalid("vad thresholds must not be negative")
	case c.QueueSize < 1:
		return invalid("queue_size must be at least 1")
	}
	switch c.Backend {
	case backendWhisper, backendOpenAI:
	default:
		return invalid("unknown backend %q (want whisper or openai)", c.Backend)
	}
	switch c.Output.Mode {
	case outputPaste, outputType, outputStdout:
	case outputTmux:
		if c.Output.TmuxTarget == "" {
			return invalid("output.tmux_target is required for tmux mode")
		}
	default:
		return invalid("unknown output mode %q", c.Output.Mode)
	}
	return nil
}

// watchConfig calls onChange with the reloaded config every time the file is
// written. It blocks until ctx is done.
func watchConfig(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file instead of writing it
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	path = filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			config, err := readConfigFile(path)
			if err == nil {
				applyEnv(config)
				err = config.Validate()
			}
			if err != nil {
				logger.Warn("ignoring config change", zap.Error(err))
				continue
			}
			logger.Debug("config reloaded", zap.String("path", path))
			onChange(config)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
