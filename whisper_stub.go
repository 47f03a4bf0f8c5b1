//go:build !voice

package main

import "fmt"

const voiceSupported = false

// newWhisperTranscriber is a stub when built without voice support
func newWhisperTranscriber(model string) (Transcriber, error) {
	return nil, fmt.Errorf("%w: whisper not compiled in (build with: go build -tags voice, or set backend: openai)", ErrBackendUnavailable)
}

func doctorCheckWhisper(config *Config) bool {
	fmt.Println("whisper........... ❌ not compiled (build with: go build -tags voice)")
	return false
}
