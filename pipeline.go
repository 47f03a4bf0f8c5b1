package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// transcribeTimeout bounds a single utterance; whisper small on CPU needs a
// few seconds for 30s of audio
const transcribeTimeout = 2 * time.Minute

type Stats struct {
	Utterances  atomic.Int64
	Discarded   atomic.Int64
	Dropped     atomic.Int64
	Transcribed atomic.Int64
	Empty       atomic.Int64
	Failed      atomic.Int64
}

// Pipeline connects capture, segmentation, transcription and delivery. The
// capture goroutine never waits on transcription: when the queue is full,
// new utterances are dropped.
type Pipeline struct {
	src         Source
	seg         *Segmenter
	transcriber Transcriber
	model       string
	history     *History // nil disables recording

	sampleRate int
	queueSize  int
	keepAudio  bool
	audioDir   string

	mu       sync.Mutex
	sink     Sink
	language string

	Stats Stats
}

type pipelineOptions struct {
	Model      string // recorded with each transcript
	SampleRate int
	QueueSize  int
	KeepAudio  bool
	AudioDir   string
	Language   string
}

func newPipeline(src Source, seg *Segmenter, tr Transcriber, sink Sink, history *History, opts pipelineOptions) *Pipeline {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.AudioDir == "" {
		opts.AudioDir = filepath.Join(cacheDir(), "recordings")
	}
	return &Pipeline{
		src:         src,
		seg:         seg,
		transcriber: tr,
		model:       opts.Model,
		sink:        sink,
		history:     history,
		sampleRate:  opts.SampleRate,
		queueSize:   opts.QueueSize,
		keepAudio:   opts.KeepAudio,
		audioDir:    opts.AudioDir,
		language:    opts.Language,
	}
}

// Reconfigure applies the settings that can change while listening
func (p *Pipeline) Reconfigure(sink Sink, language string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sink != nil {
		p.sink = sink
	}
	p.language = language
}

func (p *Pipeline) current() (Sink, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink, p.language
}

// Run blocks until ctx is cancelled or the source ends. Utterances already
// queued are still transcribed after cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.audioDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", p.audioDir, err)
	}

	queue := make(chan *Utterance, p.queueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		return p.capture(gctx, queue)
	})
	g.Go(func() error {
		p.work(context.WithoutCancel(ctx), queue)
		return nil
	})
	err := g.Wait()

	logger.Info("stopped",
		zap.Int64("utterances", p.Stats.Utterances.Load()),
		zap.Int64("transcribed", p.Stats.Transcribed.Load()),
		zap.Int64("empty", p.Stats.Empty.Load()),
		zap.Int64("failed", p.Stats.Failed.Load()),
		zap.Int64("discarded", p.Stats.Discarded.Load()),
		zap.Int64("dropped", p.Stats.Dropped.Load()))
	return err
}

func (p *Pipeline) capture(ctx context.Context, queue chan<- *Utterance) error {
	// Time is derived from the sample count, so file input and live input
	// segment identically
	base := time.Now()
	var samples int
	now := func() time.Time { return base.Add(samplesDuration(samples, p.sampleRate)) }

	for {
		block, overflowed, err := p.src.Read(ctx)
		if err != nil {
			u, ev := p.seg.Flush(now())
			p.handle(queue, u, ev)
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("audio read failed: %w", err)
		}
		if overflowed {
			logger.Warn("audio buffer overflowed (input)")
		}
		samples += len(block)
		u, ev := p.seg.Feed(block, now())
		p.handle(queue, u, ev)
	}
}

func (p *Pipeline) handle(queue chan<- *Utterance, u *Utterance, ev SegmentEvent) {
	switch ev {
	case SegmentSpeechStart:
		logger.Info("speech detected, recording")
	case SegmentTooShort:
		p.Stats.Discarded.Add(1)
		logger.Info("recording too short, discarding", zap.Duration("duration", u.Duration()))
	case SegmentUtterance, SegmentSplit:
		p.Stats.Utterances.Add(1)
		if ev == SegmentUtterance {
			logger.Info("end of speech", zap.Duration("duration", u.Duration()))
		} else {
			logger.Info("utterance reached max length, splitting", zap.Duration("duration", u.Duration()))
		}
		select {
		case queue <- u:
		default:
			p.Stats.Dropped.Add(1)
			logger.Warn("transcription queue full, dropping utterance", zap.Duration("duration", u.Duration()))
		}
	}
}

func (p *Pipeline) work(ctx context.Context, queue <-chan *Utterance) {
	for u := range queue {
		p.process(ctx, u)
	}
}

func (p *Pipeline) process(ctx context.Context, u *Utterance) {
	sink, language := p.current()
	rec := &TranscriptRecord{
		ID:        newTranscriptID(),
		StartedAt: u.Start,
		Duration:  u.Duration(),
		Backend:   p.transcriber.Name(),
		Model:     p.model,
		Sink:      sink.Name(),
	}
	defer p.record(rec)

	path := filepath.Join(p.audioDir, "utterance-"+rec.ID+".wav")
	if err := writeWAV(path, u.Samples, u.SampleRate); err != nil {
		p.fail(rec, err)
		return
	}
	if p.keepAudio {
		rec.AudioPath = path
	} else {
		defer os.Remove(path)
	}

	logger.Info("transcribing", zap.Duration("audio", rec.Duration))
	tctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	text, err := p.transcriber.Transcribe(tctx, TranscriptionRequest{AudioPath: path, Language: language})
	cancel()
	if err != nil {
		p.fail(rec, err)
		return
	}

	rec.Text = cleanTranscript(text)
	if rec.Text == "" {
		p.Stats.Empty.Add(1)
		logger.Info("no text transcribed")
		return
	}
	p.Stats.Transcribed.Add(1)
	logger.Info("transcribed", zap.String("text", rec.Text))

	if err := sink.Deliver(ctx, rec.Text); err != nil {
		p.fail(rec, fmt.Errorf("delivery failed: %w", err))
		return
	}
	rec.Delivered = true
}

func (p *Pipeline) fail(rec *TranscriptRecord, err error) {
	p.Stats.Failed.Add(1)
	rec.Error = err.Error()
	logger.Error("utterance failed", zap.String("id", rec.ID), zap.Error(err))
}

func (p *Pipeline) record(rec *TranscriptRecord) {
	if p.history == nil {
		return
	}
	if err := p.history.Record(rec); err != nil {
		logger.Warn("failed to record transcript", zap.Error(err))
	}
}
