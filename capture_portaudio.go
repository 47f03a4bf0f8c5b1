package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// portaudioSource reads the microphone through libportaudio2
type portaudioSource struct {
	device    string
	rate      int
	channels  int
	blockSize int

	stream      *portaudio.Stream
	buf         []float32
	initialized bool
}

func newPortaudioSource(audio AudioConfig) *portaudioSource {
	return &portaudioSource{
		device:    audio.Device,
		rate:      audio.SampleRate,
		channels:  audio.Channels,
		blockSize: audio.BlockSize,
	}
}

func (p *portaudioSource) Start(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	p.initialized = true

	dev, err := findInputDevice(p.device)
	if err != nil {
		return err
	}

	// High latency parameters trade a little delay for far fewer overflows
	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = p.channels
	params.SampleRate = float64(p.rate)
	params.FramesPerBuffer = p.blockSize

	p.buf = make([]float32, p.blockSize*p.channels)
	stream, err := portaudio.OpenStream(params, p.buf)
	if err != nil {
		return fmt.Errorf("failed to open input stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	p.stream = stream
	logger.Info("microphone open",
		zap.String("device", dev.Name),
		zap.Int("rate", p.rate),
		zap.Int("channels", p.channels),
		zap.Int("block", p.blockSize))
	return nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: nothing matches %q", ErrNoInputDevice, name)
}

func (p *portaudioSource) Read(ctx context.Context) ([]float32, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if p.stream == nil {
		return nil, false, fmt.Errorf("input stream not started")
	}
	overflowed := false
	if err := p.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, false, err
		}
		overflowed = true
	}
	return downmix(p.buf, p.channels), overflowed, nil
}

func (p *portaudioSource) Close() error {
	var err error
	if p.stream != nil {
		p.stream.Stop()
		err = p.stream.Close()
		p.stream = nil
	}
	if p.initialized {
		portaudio.Terminate()
		p.initialized = false
	}
	return err
}

// downmix averages interleaved frames into a fresh mono slice. The input
// buffer is reused by the stream, so a copy is always returned.
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// probeInputDevice is used by doctor
func probeInputDevice(name string) (string, error) {
	if err := portaudio.Initialize(); err != nil {
		return "", err
	}
	defer portaudio.Terminate()
	dev, err := findInputDevice(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%d ch, %.0f Hz)", dev.Name, dev.MaxInputChannels, dev.DefaultSampleRate), nil
}
