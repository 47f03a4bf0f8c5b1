package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Source delivers mono float32 blocks of a fixed size. The final block of a
// finite source may be shorter.
type Source interface {
	Start(ctx context.Context) error
	// Read blocks until the next block is available. overflowed reports
	// that samples were lost before this block; it is not an error.
	Read(ctx context.Context) (block []float32, overflowed bool, err error)
	Close() error
}

func newSource(config *Config, input string) Source {
	if input != "" {
		return newFFmpegSource(input, config.Audio.SampleRate, config.Audio.BlockSize)
	}
	return newPortaudioSource(config.Audio)
}

// ffmpegSource decodes any file or URL ffmpeg understands to raw f32le mono
type ffmpegSource struct {
	input     string
	rate      int
	blockSize int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte
	eof    bool
}

func newFFmpegSource(input string, rate, blockSize int) *ffmpegSource {
	return &ffmpegSource{input: input, rate: rate, blockSize: blockSize}
}

func ffmpegArgs(input string, rate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", input,
		"-f", "f32le", "-acodec", "pcm_f32le",
		"-ac", "1", "-ar", fmt.Sprint(rate),
		"-",
	}
}

func (f *ffmpegSource) Start(ctx context.Context) error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found (apt install ffmpeg): %w", err)
	}
	f.cmd = exec.CommandContext(ctx, path, ffmpegArgs(f.input, f.rate)...)
	f.stdout, err = f.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := f.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	f.buf = make([]byte, f.blockSize*4)
	logger.Debug("ffmpeg source started", zap.String("input", f.input), zap.Int("rate", f.rate))
	return nil
}

func (f *ffmpegSource) Read(ctx context.Context) ([]float32, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if f.eof || f.stdout == nil {
		return nil, false, io.EOF
	}
	n, err := io.ReadFull(f.stdout, f.buf)
	switch {
	case errors.Is(err, io.EOF):
		f.eof = true
		return nil, false, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		f.eof = true
	case err != nil:
		return nil, false, err
	}
	return decodeF32LE(f.buf[:n-n%4]), false, nil
}

func (f *ffmpegSource) Close() error {
	if f.cmd == nil || f.cmd.Process == nil {
		return nil
	}
	f.stdout.Close()
	f.cmd.Process.Kill()
	f.cmd.Wait()
	return nil
}

func decodeF32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// record reads exactly d worth of samples from an already started source
func record(ctx context.Context, src Source, rate int, d time.Duration) ([]float32, error) {
	want := int(d.Seconds() * float64(rate))
	samples := make([]float32, 0, want)
	for len(samples) < want {
		block, overflowed, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if overflowed {
			logger.Warn("audio buffer overflowed (input)")
		}
		samples = append(samples, block...)
	}
	if len(samples) > want {
		samples = samples[:want]
	}
	return samples, nil
}

// readAll drains a finite source
func readAll(ctx context.Context, src Source) ([]float32, error) {
	var samples []float32
	for {
		block, _, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, block...)
	}
}

func peakAmplitude(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}
