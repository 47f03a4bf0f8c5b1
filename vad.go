package main

import (
	"fmt"
	"math"
	"time"
)

// rms returns the root mean square amplitude of a block
func rms(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(block)))
}

// Calibration is the result of measuring ambient noise
type Calibration struct {
	Blocks    int
	AvgRMS    float64
	MaxRMS    float64
	Threshold float64
}

// calibrateThreshold derives the speech threshold from a recording of ambient
// noise. Samples are cut into full blocks the same size the live loop reads;
// the trailing partial block is ignored. The loudest block times multiplier
// becomes the threshold, never lower than floor.
func calibrateThreshold(samples []float32, blockSize int, multiplier, floor float64) (Calibration, error) {
	if blockSize <= 0 {
		return Calibration{}, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	n := len(samples) / blockSize
	if n == 0 {
		return Calibration{}, ErrCalibrationTooShort
	}

	var sum, peak float64
	for i := 0; i < n; i++ {
		r := rms(samples[i*blockSize : (i+1)*blockSize])
		sum += r
		if r > peak {
			peak = r
		}
	}
	return Calibration{
		Blocks:    n,
		AvgRMS:    sum / float64(n),
		MaxRMS:    peak,
		Threshold: math.Max(peak*multiplier, floor),
	}, nil
}

// Utterance is one contiguous stretch of speech plus its trailing silence
type Utterance struct {
	Samples    []float32
	SampleRate int
	Start      time.Time
	End        time.Time
}

func (u *Utterance) Duration() time.Duration {
	if u == nil || u.SampleRate <= 0 {
		return 0
	}
	return samplesDuration(len(u.Samples), u.SampleRate)
}

func samplesDuration(n, rate int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// SegmentEvent reports what a Feed call did
type SegmentEvent int

const (
	SegmentNone        SegmentEvent = iota
	SegmentSpeechStart              // threshold crossed while idle
	SegmentUtterance                // speech ended, utterance long enough
	SegmentTooShort                 // speech ended, utterance discarded
	SegmentSplit                    // utterance hit max length, recording continues
)

func (e SegmentEvent) String() string {
	switch e {
	case SegmentSpeechStart:
		return "speech_start"
	case SegmentUtterance:
		return "utterance"
	case SegmentTooShort:
		return "too_short"
	case SegmentSplit:
		return "split"
	}
	return "none"
}

// Segmenter turns a stream of blocks into utterances using an energy
// threshold. It is not safe for concurrent use.
type Segmenter struct {
	threshold  float64
	sampleRate int
	silence    time.Duration
	minSpeech  time.Duration
	maxSpeech  time.Duration // 0 disables splitting

	recording    bool
	buf          []float32
	voiced       int // samples above threshold in buf
	start        time.Time
	silenceStart time.Time
}

func newSegmenter(threshold float64, sampleRate int, vad VADConfig) *Segmenter {
	return &Segmenter{
		threshold:  threshold,
		sampleRate: sampleRate,
		silence:    vad.Silence,
		minSpeech:  vad.MinSpeech,
		maxSpeech:  vad.MaxSpeech,
	}
}

func (s *Segmenter) Threshold() float64 { return s.threshold }

func (s *Segmenter) Recording() bool { return s.recording }

// Feed consumes one block captured at time now (the end of the block).
// The returned utterance is only meant to be transcribed for SegmentUtterance
// and SegmentSplit; for SegmentTooShort it is returned for reporting.
func (s *Segmenter) Feed(block []float32, now time.Time) (*Utterance, SegmentEvent) {
	if rms(block) > s.threshold {
		ev := SegmentNone
		if !s.recording {
			s.recording = true
			s.buf = nil
			s.voiced = 0
			s.start = now.Add(-samplesDuration(len(block), s.sampleRate))
			ev = SegmentSpeechStart
		}
		s.buf = append(s.buf, block...)
		s.voiced += len(block)
		s.silenceStart = time.Time{}
		if u := s.splitIfLong(now); u != nil {
			return u, SegmentSplit
		}
		return nil, ev
	}

	if !s.recording {
		return nil, SegmentNone
	}

	// Trailing silence is kept so the transcriber sees the end of the last word
	s.buf = append(s.buf, block...)
	if s.silenceStart.IsZero() {
		s.silenceStart = now
	}
	if now.Sub(s.silenceStart) > s.silence {
		return s.finish(now)
	}
	return nil, SegmentNone
}

// Flush ends an utterance in progress, e.g. at shutdown or end of input
func (s *Segmenter) Flush(now time.Time) (*Utterance, SegmentEvent) {
	if !s.recording {
		return nil, SegmentNone
	}
	return s.finish(now)
}

func (s *Segmenter) finish(now time.Time) (*Utterance, SegmentEvent) {
	u := &Utterance{Samples: s.buf, SampleRate: s.sampleRate, Start: s.start, End: now}
	voiced := samplesDuration(s.voiced, s.sampleRate)
	s.recording = false
	s.buf = nil
	s.voiced = 0
	s.silenceStart = time.Time{}
	// Only voiced blocks count toward min speech
	if voiced < s.minSpeech {
		return u, SegmentTooShort
	}
	return u, SegmentUtterance
}

func (s *Segmenter) splitIfLong(now time.Time) *Utterance {
	if s.maxSpeech <= 0 || samplesDuration(len(s.buf), s.sampleRate) < s.maxSpeech {
		return nil
	}
	u := &Utterance{Samples: s.buf, SampleRate: s.sampleRate, Start: s.start, End: now}
	s.buf = nil
	s.voiced = 0
	s.start = now
	return u
}
