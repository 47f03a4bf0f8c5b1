package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

func TestCleanTranscript(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello world  ", "hello world"},
		{"", ""},
		{"[BLANK_AUDIO]", ""},
		{" (silence) ", ""},
		{"[ Silence ]", ""},
		{"[MUSIC]", ""},
		{"play [MUSIC] loud", "play [MUSIC] loud"},
		{"नमस्ते", "नमस्ते"},
	}
	for _, tt := range tests {
		if got := cleanTranscript(tt.in); got != tt.want {
			t.Errorf("cleanTranscript(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u.wav")
	samples := []float32{0, 0.5, -0.5, 2, -2}
	require.NoError(t, writeWAV(path, samples, 16000))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	d := wav.NewDecoder(f)
	require.True(t, d.IsValidFile())
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	require.Equal(t, 16000, buf.Format.SampleRate)
	require.Equal(t, 1, buf.Format.NumChannels)
	require.Equal(t, []int{0, 16383, -16383, 32767, -32767}, buf.Data, "out of range samples are clamped")
}

func TestWriteWAVBadPath(t *testing.T) {
	err := writeWAV(filepath.Join(t.TempDir(), "missing", "u.wav"), []float32{0}, 16000)
	require.Error(t, err)
}

func TestOpenAITranscriberRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := newOpenAITranscriber(defaultConfig())
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOpenAITranscriber(t *testing.T) {
	var gotModel, gotLanguage, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "  hello from the server \n"})
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	config := defaultConfig()
	config.Backend = backendOpenAI
	config.OpenAIBaseURL = srv.URL + "/v1"

	tr, err := newTranscriber(config)
	require.NoError(t, err)
	defer tr.Close()
	require.Equal(t, "openai/whisper-1", tr.Name())

	path := filepath.Join(t.TempDir(), "u.wav")
	require.NoError(t, writeWAV(path, constBlock(0.2, 1600), 16000))

	text, err := tr.Transcribe(context.Background(), TranscriptionRequest{AudioPath: path, Language: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hello from the server", text)
	require.Equal(t, "whisper-1", gotModel)
	require.Equal(t, "hi", gotLanguage)
	require.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAITranscriberServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	config := defaultConfig()
	config.OpenAIBaseURL = srv.URL + "/v1"
	tr, err := newOpenAITranscriber(config)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "u.wav")
	require.NoError(t, writeWAV(path, constBlock(0.2, 160), 16000))
	_, err = tr.Transcribe(context.Background(), TranscriptionRequest{AudioPath: path})
	require.ErrorContains(t, err, "transcription failed")
}

func TestNewTranscriberUnknownBackend(t *testing.T) {
	config := defaultConfig()
	config.Backend = "vosk"
	_, err := newTranscriber(config)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
