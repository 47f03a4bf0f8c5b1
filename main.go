package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "dictate",
	Short: "Live speech-to-text dictation into the focused window",
	Long: `dictate listens to the microphone, cuts speech into utterances by
loudness, transcribes each one with Whisper and pastes the text into
whatever window has focus.

Run without arguments to start listening. Run 'dictate doctor' first on a
new machine to check ffmpeg, PortAudio, xclip and the display server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		config.DisableStacktrace = true
		config.DisableCaller = !verbose
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		l, err := config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		loadEnv()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	RunE: runListen,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&configPathOverride, "config", "", "config file (default ~/.config/dictate/config.yaml)")

	addListenFlags(rootCmd)
	addListenFlags(listenCmd)
	calibrateCmd.Flags().Duration("duration", 0, "calibration window (default from config)")
	calibrateCmd.Flags().Bool("save", false, "store the threshold in the config file")
	micTestCmd.Flags().Int("seconds", 3, "recording length")
	transcribeCmd.Flags().Bool("deliver", false, "send the text to the configured output as well")
	historyCmd.Flags().Int("limit", 20, "number of transcripts to show")
	historyCmd.Flags().Bool("json", false, "print as JSON lines")

	historyCmd.AddCommand(historyClearCmd)
	configCmd.AddCommand(configPathCmd, configShowCmd)
	rootCmd.AddCommand(listenCmd, calibrateCmd, micTestCmd, transcribeCmd, historyCmd, doctorCmd, setupCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
