// Package audioedit removes ad spans from audio files with ffmpeg. Cuts are
// replaced by a short marker tone mixed at reduced volume, with crossfades on
// both sides of every splice point.
package audioedit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/podscrub/internal/ads"
)

// Editor runs ffmpeg and ffprobe. Safe for concurrent use; duration probes
// are cached by path and modification time.
type Editor struct {
	ffmpegPath  string
	ffprobePath string
	log         *slog.Logger

	mu    sync.Mutex
	cache map[string]probeEntry
}

type probeEntry struct {
	mtime    time.Time
	duration float64
}

// Option configures an Editor.
type Option func(*Editor)

// WithFFmpegPath overrides PATH resolution of the ffmpeg binary.
func WithFFmpegPath(path string) Option {
	return func(e *Editor) { e.ffmpegPath = path }
}

// WithFFprobePath overrides PATH resolution of the ffprobe binary.
func WithFFprobePath(path string) Option {
	return func(e *Editor) { e.ffprobePath = path }
}

// WithLogger sets the logger used for dropped-cut and splice messages.
func WithLogger(log *slog.Logger) Option {
	return func(e *Editor) { e.log = log }
}

// New creates an Editor.
func New(opts ...Option) *Editor {
	e := &Editor{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		log:         slog.Default(),
		cache:       map[string]probeEntry{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CutAndSplice removes the given spans from input and writes the result to
// output, re-encoded at bitrate. markerPath, when non-empty, is a tone mixed
// in at 40 % volume where each ad was removed.
//
// It returns false with a nil error when planning leaves nothing to cut, and
// false with an error when ffmpeg fails; in both cases output is untouched.
func (e *Editor) CutAndSplice(ctx context.Context, input string, cuts []ads.Cut, output, markerPath, bitrate string) (bool, error) {
	duration, err := e.Probe(ctx, input)
	if err != nil {
		return false, fmt.Errorf("audioedit: probe input: %w", err)
	}

	plan := PlanCuts(cuts, duration)
	for _, d := range plan.Dropped {
		e.log.Info("dropping short cut",
			"start", d.Start, "end", d.End, "duration", d.Duration())
	}
	if plan.Empty() {
		return false, nil
	}
	if plan.TailTrimmed {
		e.log.Info("trimming short tail after last cut",
			"tail", duration-plan.Cuts[len(plan.Cuts)-1].End)
	}

	withMarker := markerPath != ""
	markerDuration := 0.0
	if withMarker {
		markerDuration, err = e.Probe(ctx, markerPath)
		if err != nil {
			e.log.Warn("marker probe failed, splicing without marker", "path", markerPath, "err", err)
			withMarker = false
		}
	}

	graph, err := plan.filterGraph(withMarker, markerDuration)
	if err != nil {
		return false, err
	}

	tmp := output + ".tmp"
	args := []string{"-y", "-i", input}
	if withMarker {
		args = append(args, "-i", markerPath)
	}
	args = append(args,
		"-filter_complex", graph,
		"-map", "[out]",
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		tmp,
	)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("audioedit: ffmpeg: %w: %s", err, tail(string(out), 400))
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("audioedit: finalize %q: %w", output, err)
	}

	e.log.Info("spliced audio",
		"input", input, "output", output,
		"cuts", len(plan.Cuts), "removed_seconds", plan.TotalRemoved())
	return true, nil
}

// Probe returns the audio duration in seconds via ffprobe. Results are
// cached by (path, mtime); a touched file invalidates its entry.
func (e *Editor) Probe(ctx context.Context, path string) (float64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("audioedit: stat %q: %w", path, err)
	}

	e.mu.Lock()
	if entry, ok := e.cache[path]; ok && entry.mtime.Equal(fi.ModTime()) {
		e.mu.Unlock()
		return entry.duration, nil
	}
	e.mu.Unlock()

	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("audioedit: ffprobe %q: %w", path, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("audioedit: ffprobe %q: parse duration: %w", path, err)
	}

	e.mu.Lock()
	e.cache[path] = probeEntry{mtime: fi.ModTime(), duration: duration}
	e.mu.Unlock()
	return duration, nil
}

// tail returns the last n bytes of s for error messages.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
