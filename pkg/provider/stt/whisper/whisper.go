// Package whisper provides a local whisper.cpp-backed STT provider via the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a) and
// headers (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded lazily on the first Transcribe call and kept resident
// for the lifetime of the provider. whisper.cpp contexts are not re-entrant,
// so Transcribe serialises all calls; the pipeline's single processing slot
// means this never contends in practice.
//
// Audio is decoded to 16 kHz mono f32 PCM by shelling out to ffmpeg, which
// handles every container and codec a podcast enclosure realistically uses.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/podscrub/pkg/provider/stt"
)

const (
	// sampleRate is fixed at 16 kHz, the rate whisper.cpp models expect.
	sampleRate = 16000

	// silenceRMS is the root-mean-square level (in normalised [-1, 1] units)
	// below which decoded audio is treated as silence and skipped outright.
	silenceRMS = 0.005

	defaultLanguage = "en"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de"). Defaults to "en"; "auto" enables language detection.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithInitialPrompt sets an initial prompt that biases decoding, useful for
// domain vocabulary (sponsor names, show titles).
func WithInitialPrompt(prompt string) Option {
	return func(p *Provider) { p.initialPrompt = prompt }
}

// WithFFmpegPath overrides the ffmpeg binary used for decoding. Defaults to
// "ffmpeg" resolved via PATH.
func WithFFmpegPath(path string) Option {
	return func(p *Provider) { p.ffmpegPath = path }
}

// Provider implements stt.Provider backed by whisper.cpp.
type Provider struct {
	modelPath     string
	language      string
	initialPrompt string
	ffmpegPath    string

	// Lazy model load: the ggml weights are only pulled into memory when the
	// first episode actually needs transcription.
	loadOnce sync.Once
	loadErr  error
	model    whisperlib.Model

	// whisper contexts are not re-entrant; serialise Process calls.
	mu sync.Mutex
}

// New creates a Provider for the ggml model file at modelPath. The model is
// not loaded until the first Transcribe call. Call Close to release it.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &Provider{
		modelPath:  modelPath,
		language:   defaultLanguage,
		ffmpegPath: "ffmpeg",
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model if it was loaded.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		err := p.model.Close()
		p.model = nil
		return err
	}
	return nil
}

func (p *Provider) load() error {
	p.loadOnce.Do(func() {
		slog.Info("loading whisper model", "path", p.modelPath)
		model, err := whisperlib.New(p.modelPath)
		if err != nil {
			p.loadErr = fmt.Errorf("whisper: load model %q: %w", p.modelPath, err)
			return
		}
		p.model = model
	})
	return p.loadErr
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audioPath string) ([]stt.Segment, error) {
	if err := p.load(); err != nil {
		return nil, err
	}

	samples, err := p.decode(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	if rms(samples) < silenceRMS {
		slog.Warn("audio is effectively silent, skipping transcription", "path", audioPath)
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context cancelled before transcription: %w", err)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("failed to set whisper language, falling back to auto", "language", p.language, "err", err)
		_ = wctx.SetLanguage("auto")
	}
	if p.initialPrompt != "" {
		wctx.SetInitialPrompt(p.initialPrompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process: %w", err)
	}

	var segments []stt.Segment
	lastStart := 0.0
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		start := segment.Start.Seconds()
		end := segment.End.Seconds()
		if end <= start {
			continue
		}
		// Enforce monotone non-decreasing starts even if the model stutters.
		if start < lastStart {
			start = lastStart
		}
		lastStart = start
		segments = append(segments, stt.Segment{Start: start, End: end, Text: text})
	}
	return segments, nil
}

// decode shells out to ffmpeg and returns normalised f32 mono PCM at 16 kHz.
func (p *Provider) decode(ctx context.Context, audioPath string) ([]float32, error) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", audioPath,
		"-f", "s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", "1",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("whisper: decode %q: %w (ffmpeg: %s)", audioPath, err, strings.TrimSpace(stderr.String()))
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("whisper: decode %q: no audio data", audioPath)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
