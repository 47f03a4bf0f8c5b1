package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type TranscriptionRequest struct {
	AudioPath string
	Language  string
}

// Transcriber turns a WAV file into text
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
	Name() string
	Close() error
}

func newTranscriber(config *Config) (Transcriber, error) {
	switch config.Backend {
	case backendWhisper:
		return newWhisperTranscriber(config.Model)
	case backendOpenAI:
		return newOpenAITranscriber(config)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, config.Backend)
}

// openaiTranscriber talks to the OpenAI audio API or any server that speaks it
type openaiTranscriber struct {
	client *openai.Client
	model  string
}

func newOpenAITranscriber(config *Config) (*openaiTranscriber, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := openai.DefaultConfig(key)
	if config.OpenAIBaseURL != "" {
		cfg.BaseURL = config.OpenAIBaseURL
	}
	return &openaiTranscriber{
		client: openai.NewClientWithConfig(cfg),
		model:  config.OpenAIModel,
	}, nil
}

func (t *openaiTranscriber) Name() string { return backendOpenAI + "/" + t.model }

func (t *openaiTranscriber) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: req.AudioPath,
		Language: req.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (t *openaiTranscriber) Close() error { return nil }

// Markers whisper emits for non-speech audio
var blankMarkers = []string{
	"[blank_audio]",
	"(silence)",
	"[silence]",
	"[ silence ]",
	"[music]",
	"(music)",
	"[no speech]",
}

// cleanTranscript trims the text and maps non-speech markers to ""
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	for _, m := range blankMarkers {
		if lower == m {
			return ""
		}
	}
	return text
}
