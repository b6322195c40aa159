// Package media implements the attachment-resolution sidecar described in
// SPEC_FULL.md §4.4, grounded on
// original_source/src/core/media_processor.py's ffmpeg-availability check
// and temp-directory download pattern.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrTrimmerUnavailable is returned by ExecTrimmer when ffmpeg is not on
// PATH.
var ErrTrimmerUnavailable = errors.New("media: ffmpeg not available")

// Trimmer probes and trims audio/video files to a duration cap. The
// production implementation shells out to ffmpeg; tests supply a fake.
type Trimmer interface {
	Probe(ctx context.Context, path string) (time.Duration, error)
	Trim(ctx context.Context, in, out string, maxDuration time.Duration) error
}

// ExecTrimmer wraps the ffmpeg/ffprobe binaries via os/exec, matching the
// spec's literal subprocess contract. Availability is checked once and
// cached, logged exactly as the original implementation's check_ffmpeg.
type ExecTrimmer struct {
	once      sync.Once
	available bool
	logger    *slog.Logger
}

// NewExecTrimmer returns a Trimmer backed by the ffmpeg/ffprobe binaries on
// PATH.
func NewExecTrimmer(logger *slog.Logger) *ExecTrimmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecTrimmer{logger: logger.With("component", "media-trimmer")}
}

func (e *ExecTrimmer) checkAvailable() bool {
	e.once.Do(func() {
		_, err := exec.LookPath("ffmpeg")
		e.available = err == nil
		if e.available {
			e.logger.Info("ffmpeg found")
		} else {
			e.logger.Warn("ffmpeg not found; audio/video trimming disabled")
		}
	})
	return e.available
}

// Probe shells out to ffprobe to read a media file's duration.
func (e *ExecTrimmer) Probe(ctx context.Context, path string) (time.Duration, error) {
	if !e.checkAvailable() {
		return 0, ErrTrimmerUnavailable
	}
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing ffprobe duration: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Trim shells out to ffmpeg to cut in down to maxDuration, writing out.
func (e *ExecTrimmer) Trim(ctx context.Context, in, out string, maxDuration time.Duration) error {
	if !e.checkAvailable() {
		return ErrTrimmerUnavailable
	}
	seconds := int(maxDuration.Seconds())
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", in,
		"-t", strconv.Itoa(seconds),
		"-c", "copy",
		out,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg trim: %w", err)
	}
	return nil
}

var _ Trimmer = (*ExecTrimmer)(nil)
