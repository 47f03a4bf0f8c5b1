package main

import "errors"

var (
	// ErrInvalidConfig wraps every validation failure from Config.Validate.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrCalibrationTooShort means the calibration recording did not contain a single full block.
	ErrCalibrationTooShort = errors.New("calibration recording shorter than one block")

	// ErrNoInputDevice indicates no audio input device was found or matched.
	ErrNoInputDevice = errors.New("no audio input device found")

	// ErrSilentInput indicates the microphone delivered only zero samples.
	ErrSilentInput = errors.New("microphone returned only silence")

	// ErrBackendUnavailable indicates the configured transcription backend is not compiled in.
	ErrBackendUnavailable = errors.New("transcription backend not available")

	// ErrMissingAPIKey indicates the openai backend was selected without OPENAI_API_KEY.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

	// ErrModelDownloadFailed indicates the whisper model could not be fetched.
	ErrModelDownloadFailed = errors.New("failed to download whisper model")

	// ErrNoKeystrokeTool indicates neither xdotool, wtype nor ydotool could be found.
	ErrNoKeystrokeTool = errors.New("no keystroke tool found (install xdotool)")

	// ErrWaylandUnsupported carries the Xorg workaround for sessions where keystrokes cannot be simulated.
	ErrWaylandUnsupported = errors.New(`keystroke simulation does not work in this Wayland session; install wtype, or log out and pick "Ubuntu on Xorg" from the gear menu on the login screen`)

	// ErrHistoryClosed is returned by history operations after Close.
	ErrHistoryClosed = errors.New("history database not open")
)
