package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// defaultFileThreshold is used for --input when no threshold is configured;
// the start of a file is not guaranteed to be silence, so it cannot be
// calibrated on
const defaultFileThreshold = 0.01

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen to the microphone and type what is said (default command)",
	RunE:  runListen,
}

func addListenFlags(cmd *cobra.Command) {
	cmd.Flags().String("input", "", "read audio from a file or URL through ffmpeg instead of the microphone")
	cmd.Flags().String("output", "", "paste, type, tmux or stdout")
	cmd.Flags().String("tmux-target", "", "tmux window or pane for --output tmux")
	cmd.Flags().String("backend", "", "whisper or openai")
	cmd.Flags().String("model", "", "whisper model (tiny, base, small, medium, large-v3)")
	cmd.Flags().String("language", "", "language code, empty for auto-detect")
	cmd.Flags().Float64("threshold", 0, "fixed speech threshold, skips calibration")
}

// applyListenFlags copies explicitly set flags over config and returns --input
func applyListenFlags(cmd *cobra.Command, config *Config) string {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("output", &config.Output.Mode)
	str("tmux-target", &config.Output.TmuxTarget)
	str("backend", &config.Backend)
	str("model", &config.Model)
	str("language", &config.Language)
	if flags.Changed("threshold") {
		config.VAD.Threshold, _ = flags.GetFloat64("threshold")
	}
	input, _ := flags.GetString("input")
	return input
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openOptionalHistory(config *Config) *History {
	if !config.History.Enabled {
		return nil
	}
	h, err := openHistory(historyPath())
	if err != nil {
		logger.Warn("history disabled", zap.Error(err))
		return nil
	}
	return h
}

func runListen(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	input := applyListenFlags(cmd, config)
	if err := config.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	logger.Info("loading transcriber", zap.String("backend", config.Backend), zap.String("model", config.Model))
	tr, err := newTranscriber(config)
	if err != nil {
		return err
	}
	defer tr.Close()
	logger.Info("transcriber ready", zap.String("name", tr.Name()))

	sink, err := newSink(config.Output)
	if err != nil {
		return err
	}
	warnDisplay(config.Output.Mode)

	history := openOptionalHistory(config)
	if history != nil {
		defer history.Close()
	}

	src := newSource(config, input)
	if err := src.Start(ctx); err != nil {
		return err
	}
	defer src.Close()

	threshold := config.VAD.Threshold
	if threshold <= 0 && input != "" {
		threshold = defaultFileThreshold
	}
	if threshold <= 0 {
		cal, err := calibrate(ctx, src, config)
		if err != nil {
			return err
		}
		threshold = cal.Threshold
		if history != nil {
			history.LogEvent("calibration", fmt.Sprintf("avg=%.5f max=%.5f threshold=%.5f", cal.AvgRMS, cal.MaxRMS, cal.Threshold))
		}
	}

	seg := newSegmenter(threshold, config.Audio.SampleRate, config.VAD)
	p := newPipeline(src, seg, tr, sink, history, pipelineOptions{
		Model:      config.TranscriptionModel(),
		SampleRate: config.Audio.SampleRate,
		QueueSize:  config.QueueSize,
		KeepAudio:  config.History.KeepAudio,
		Language:   config.Language,
	})

	if input == "" {
		go func() {
			err := watchConfig(ctx, getConfigPath(), func(updated *Config) {
				applyListenFlags(cmd, updated)
				s, err := newSink(updated.Output)
				if err != nil {
					logger.Warn("keeping previous output", zap.Error(err))
					s = nil
				}
				p.Reconfigure(s, updated.Language)
				logger.Info("config applied", zap.String("output", updated.Output.Mode), zap.String("language", updated.Language))
			})
			if err != nil {
				logger.Debug("config reload disabled", zap.Error(err))
			}
		}()
	}

	if history != nil {
		history.LogEvent("start", fmt.Sprintf("backend=%s output=%s threshold=%.5f", tr.Name(), sink.Name(), threshold))
		defer history.LogEvent("stop", "")
	}
	fmt.Println("Listening... (Press Ctrl+C to stop)")
	return p.Run(ctx)
}

// calibrate records ambient noise from an already started source
func calibrate(ctx context.Context, src Source, config *Config) (Calibration, error) {
	d := config.VAD.Calibration
	fmt.Printf("Calibrating ambient noise for %s... Please remain silent.\n", d)
	samples, err := record(ctx, src, config.Audio.SampleRate, d)
	if err != nil {
		return Calibration{}, fmt.Errorf("calibration failed: %w", err)
	}
	cal, err := calibrateThreshold(samples, config.Audio.BlockSize, config.VAD.ThresholdMultiplier, config.VAD.MinThreshold)
	if err != nil {
		return Calibration{}, err
	}
	fmt.Printf("Calibration complete. Average RMS: %.5f, Max RMS: %.5f, Threshold: %.5f\n", cal.AvgRMS, cal.MaxRMS, cal.Threshold)
	return cal, nil
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure ambient noise and print the speech threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
			config.VAD.Calibration = d
		}

		ctx, stop := signalContext()
		defer stop()
		src := newPortaudioSource(config.Audio)
		if err := src.Start(ctx); err != nil {
			return err
		}
		defer src.Close()

		cal, err := calibrate(ctx, src, config)
		if err != nil {
			return err
		}
		if save, _ := cmd.Flags().GetBool("save"); save {
			if err := updateConfigFile(func(c *Config) { c.VAD.Threshold = cal.Threshold }); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Printf("Saved threshold to %s\n", getConfigPath())
		}
		return nil
	},
}

var micTestCmd = &cobra.Command{
	Use:   "mic-test",
	Short: "Record a few seconds and report the loudest sample",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		seconds, _ := cmd.Flags().GetInt("seconds")
		if seconds <= 0 {
			return fmt.Errorf("--seconds must be positive")
		}

		ctx, stop := signalContext()
		defer stop()
		src := newPortaudioSource(config.Audio)
		if err := src.Start(ctx); err != nil {
			return err
		}
		defer src.Close()

		fmt.Printf("Testing recording for %d seconds...\n", seconds)
		samples, err := record(ctx, src, config.Audio.SampleRate, time.Duration(seconds)*time.Second)
		if err != nil {
			return err
		}
		fmt.Println("Recording finished.")
		peak := peakAmplitude(samples)
		fmt.Printf("Max amplitude: %.5f\n", peak)
		if peak == 0 {
			return ErrSilentInput
		}
		return nil
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE...",
	Short: "Transcribe audio files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		tr, err := newTranscriber(config)
		if err != nil {
			return err
		}
		defer tr.Close()

		var sink Sink
		if deliver, _ := cmd.Flags().GetBool("deliver"); deliver {
			if sink, err = newSink(config.Output); err != nil {
				return err
			}
		}

		for _, file := range args {
			text, err := transcribeFile(ctx, tr, config, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			if len(args) > 1 {
				fmt.Printf("%s: %s\n", file, text)
			} else {
				fmt.Println(text)
			}
			if sink != nil {
				if err := sink.Deliver(ctx, text); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

// transcribeFile normalizes any input to mono WAV at the configured rate first
func transcribeFile(ctx context.Context, tr Transcriber, config *Config, file string) (string, error) {
	src := newFFmpegSource(file, config.Audio.SampleRate, config.Audio.BlockSize)
	if err := src.Start(ctx); err != nil {
		return "", err
	}
	samples, err := readAll(ctx, src)
	src.Close()
	if err != nil {
		return "", err
	}

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("dictate_%d.wav", time.Now().UnixNano()))
	if err := writeWAV(tmpPath, samples, config.Audio.SampleRate); err != nil {
		return "", err
	}
	defer os.Remove(tmpPath)

	logger.Debug("transcribing file", zap.String("file", file),
		zap.Duration("duration", samplesDuration(len(samples), config.Audio.SampleRate)))
	text, err := tr.Transcribe(ctx, TranscriptionRequest{AudioPath: tmpPath, Language: config.Language})
	if err != nil {
		return "", err
	}
	return cleanTranscript(text), nil
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent transcripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		h, err := openHistory(historyPath())
		if err != nil {
			return err
		}
		defer h.Close()

		records, err := h.Recent(limit)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		}
		if len(records) == 0 {
			fmt.Println("No transcripts yet.")
			return nil
		}
		for _, r := range records {
			fmt.Println(formatRecord(r))
		}
		return nil
	},
}

func formatRecord(r *TranscriptRecord) string {
	status := "✅"
	detail := r.Text
	switch {
	case r.Error != "":
		status = "❌"
		detail = r.Error
	case r.Text == "":
		status = "·"
		detail = "(no speech)"
	case !r.Delivered:
		status = "⚠️"
	}
	return fmt.Sprintf("%s %5.1fs %s %s", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Duration.Seconds(), status, truncate(detail, 120))
}

// truncate shortens a string to n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored transcripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory(historyPath())
		if err != nil {
			return err
		}
		defer h.Close()
		n, err := h.Clear()
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d transcripts.\n", n)
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !doctor() {
			return errors.New("some checks failed")
		}
		return nil
	},
}

func doctor() bool {
	fmt.Println("🩺 dictate doctor")
	fmt.Println("=================")
	fmt.Println()

	allGood := true

	fmt.Print("config............ ")
	config, err := loadConfig()
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		config = defaultConfig()
		allGood = false
	} else if configExists() {
		fmt.Printf("✅ %s\n", getConfigPath())
	} else {
		fmt.Println("⚠️  using defaults (run: dictate setup)")
	}

	fmt.Print("ffmpeg............ ")
	if path, err := lookPath("ffmpeg"); err == nil {
		fmt.Printf("✅ %s\n", path)
	} else {
		fmt.Println("⚠️  not found (needed for --input and transcribe)")
		fmt.Println("   Install: sudo apt install ffmpeg")
	}

	fmt.Print("microphone........ ")
	if dev, err := probeInputDevice(config.Audio.Device); err == nil {
		fmt.Printf("✅ %s\n", dev)
	} else {
		fmt.Printf("❌ %v\n", err)
		fmt.Println("   Install: sudo apt install libportaudio2")
		allGood = false
	}

	display := detectDisplay()
	fmt.Print("display server.... ")
	switch display {
	case displayWayland:
		fmt.Println("⚠️  wayland")
	case displayX11:
		fmt.Println("✅ x11")
	default:
		fmt.Println("⚠️  none (no DISPLAY or WAYLAND_DISPLAY)")
	}

	needKeys := config.Output.Mode == outputPaste || config.Output.Mode == outputType
	if config.Output.Mode == outputPaste {
		fmt.Print("clipboard......... ")
		if tool := firstOnPath("xclip", "xsel", "wl-copy"); tool != "" {
			fmt.Printf("✅ %s\n", tool)
		} else {
			fmt.Println("❌ not found")
			fmt.Println("   Install: sudo apt install xclip")
			allGood = false
		}
	}

	if needKeys {
		fmt.Print("keystrokes........ ")
		if tool, err := keystrokeTool(display, config.Output.Mode == outputPaste); err == nil {
			fmt.Printf("✅ %s\n", tool)
		} else {
			fmt.Printf("❌ %v\n", err)
			if display != displayWayland {
				fmt.Println("   Install: sudo apt install xdotool")
			}
			allGood = false
		}
	}

	if config.Output.Mode == outputTmux {
		fmt.Print("tmux.............. ")
		initTmuxPath()
		if tmuxPath != "" {
			fmt.Printf("✅ %s\n", tmuxPath)
		} else {
			fmt.Println("❌ not found")
			allGood = false
		}
	}

	switch config.Backend {
	case backendWhisper:
		if !doctorCheckWhisper(config) {
			allGood = false
		}
	case backendOpenAI:
		fmt.Print("openai api key.... ")
		if os.Getenv("OPENAI_API_KEY") != "" {
			fmt.Println("✅ configured")
		} else {
			fmt.Println("❌ OPENAI_API_KEY not set (environment or ~/.config/dictate/.env)")
			allGood = false
		}
	}

	fmt.Print("history........... ")
	if h, err := openHistory(historyPath()); err == nil {
		h.Close()
		fmt.Printf("✅ %s\n", historyPath())
	} else {
		fmt.Printf("⚠️  %v\n", err)
	}

	fmt.Println()
	if allGood {
		fmt.Println("✅ All checks passed!")
	} else {
		fmt.Println("❌ Some issues found. Fix them and run 'dictate doctor' again.")
	}
	return allGood
}

func firstOnPath(names ...string) string {
	for _, n := range names {
		if _, err := lookPath(n); err == nil {
			return n
		}
	}
	return ""
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Choose backend, model, language and output interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func setup() error {
	fmt.Println("🎙  dictate setup")
	fmt.Println("================")
	fmt.Println()

	// Environment overrides are left out so they are not saved
	config, err := readConfigFile(getConfigPath())
	if err != nil {
		// Start over rather than refuse to fix a broken file
		config = defaultConfig()
	}

	backendDescription := "whisper runs locally"
	if !voiceSupported {
		backendDescription = "this binary was built without whisper (-tags voice), pick openai or rebuild"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Transcription backend").
				Description(backendDescription).
				Options(
					huh.NewOption("Local whisper.cpp (offline)", backendWhisper),
					huh.NewOption("OpenAI API (needs OPENAI_API_KEY)", backendOpenAI),
				).
				Value(&config.Backend),
			huh.NewSelect[string]().
				Title("Whisper model").
				Description("Larger models are more accurate and slower. small is a good default for non-English speech.").
				Options(huh.NewOptions("tiny", "base", "small", "medium", "large-v3")...).
				Value(&config.Model),
			huh.NewInput().
				Title("Language").
				Description("ISO code such as en or hi. Leave empty to auto-detect.").
				Value(&config.Language),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should text go?").
				Options(
					huh.NewOption("Paste into the focused window (clipboard + ctrl+v)", outputPaste),
					huh.NewOption("Type into the focused window key by key", outputType),
					huh.NewOption("Send to a tmux pane", outputTmux),
					huh.NewOption("Print to this terminal", outputStdout),
				).
				Value(&config.Output.Mode),
			huh.NewInput().
				Title("tmux target (only for tmux output)").
				Value(&config.Output.TmuxTarget),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}
	config.Language = strings.TrimSpace(config.Language)

	if err := config.Validate(); err != nil {
		return err
	}
	if err := saveConfig(config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Printf("\n✅ Saved %s\n", getConfigPath())
	if detectDisplay() == displayWayland && (config.Output.Mode == outputPaste || config.Output.Mode == outputType) {
		fmt.Println("⚠️  You are on Wayland. If text does not appear, log out and pick \"Ubuntu on Xorg\" at the login screen.")
	}
	fmt.Println("Run 'dictate doctor' to verify the rest of the system.")
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(getConfigPath())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(config)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}
