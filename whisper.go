//go:build voice

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mutablelogic/go-whisper/pkg/schema"
	whisper "github.com/mutablelogic/go-whisper/pkg/whisper"
	"go.uber.org/zap"
)

const voiceSupported = true

const whisperModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

func getModelsDir() string {
	return filepath.Join(cacheDir(), "models")
}

func whisperModelID(model string) string {
	return "ggml-" + model
}

// ensureModel downloads the ggml model for name if it is not cached yet
func ensureModel(name string) (string, error) {
	modelsDir := getModelsDir()
	fileName := whisperModelID(name) + ".bin"
	modelPath := filepath.Join(modelsDir, fileName)
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	}

	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create models dir: %w", err)
	}

	logger.Info("downloading whisper model", zap.String("model", fileName))
	resp, err := http.Get(whisperModelBaseURL + fileName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", ErrModelDownloadFailed, resp.StatusCode)
	}

	tmpPath := modelPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create model file: %w", err)
	}

	written, err := io.Copy(f, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", ErrModelDownloadFailed, err)
	}

	if err := os.Rename(tmpPath, modelPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename model: %w", err)
	}

	logger.Info("model downloaded", zap.String("model", fileName), zap.Int64("mb", written/1024/1024))
	return modelPath, nil
}

// whisperTranscriber runs whisper.cpp in-process. The manager and model are
// loaded once and shared by every utterance.
type whisperTranscriber struct {
	name    string
	manager *whisper.Manager
	model   *schema.Model
}

func newWhisperTranscriber(name string) (Transcriber, error) {
	if _, err := ensureModel(name); err != nil {
		return nil, fmt.Errorf("model setup failed: %w", err)
	}

	modelsDir := getModelsDir()
	manager, err := whisper.New(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper manager: %w", err)
	}

	id := whisperModelID(name)
	model := manager.GetModelById(id)
	if model == nil {
		manager.Close()
		return nil, fmt.Errorf("model %s not found in %s", id, modelsDir)
	}
	logger.Debug("whisper model loaded", zap.String("model", id))
	return &whisperTranscriber{name: name, manager: manager, model: model}, nil
}

func (t *whisperTranscriber) Name() string { return backendWhisper + "/" + t.name }

func (t *whisperTranscriber) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if t.manager == nil {
		return "", fmt.Errorf("%w: whisper transcriber closed", ErrBackendUnavailable)
	}

	var result strings.Builder
	err := t.manager.WithModel(t.model, func(task *whisper.Task) error {
		if req.Language != "" {
			if err := task.SetLanguage(req.Language); err != nil {
				return fmt.Errorf("failed to set language: %w", err)
			}
		}
		f, err := os.Open(req.AudioPath)
		if err != nil {
			return fmt.Errorf("failed to open audio: %w", err)
		}
		defer f.Close()
		return task.TranscribeReader(ctx, f, func(seg *schema.Segment) {
			result.WriteString(seg.Text)
		})
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	return strings.TrimSpace(result.String()), nil
}

func (t *whisperTranscriber) Close() error {
	if t.manager == nil {
		return nil
	}
	err := t.manager.Close()
	t.manager = nil
	t.model = nil
	return err
}

func doctorCheckWhisper(config *Config) bool {
	fmt.Print("whisper model..... ")
	modelPath := filepath.Join(getModelsDir(), whisperModelID(config.Model)+".bin")
	if _, err := os.Stat(modelPath); err == nil {
		fmt.Printf("✅ %s\n", modelPath)
	} else {
		fmt.Println("⚠️  not downloaded (will auto-download on first run)")
		fmt.Println("   Model: " + whisperModelID(config.Model) + ".bin")
	}
	return true
}
