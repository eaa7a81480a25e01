// Package transcoder invokes ffmpeg to convert uploads into the single
// standard playback profile.
package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/vodworks/pipeline/internal/metrics"
	"github.com/vodworks/pipeline/pkg/models"
)

var tracer = otel.Tracer("vod-transcoder")

// Profile defines the fixed target encoding. Every upload is downscaled
// to the same width; height follows the source aspect ratio.
type Profile struct {
	ScaleWidth int
	VideoCodec string
	Preset     string
	CRF        int
	AudioCodec string
}

// DefaultProfile is the standard playback rendition.
var DefaultProfile = Profile{
	ScaleWidth: 640,
	VideoCodec: "libx264",
	Preset:     "fast",
	CRF:        28,
	AudioCodec: "aac",
}

// Transcoder runs ffmpeg against local files.
type Transcoder struct {
	profile Profile
	log     *slog.Logger
}

// New creates a Transcoder with the given profile.
func New(profile Profile, log *slog.Logger) *Transcoder {
	return &Transcoder{profile: profile, log: log}
}

// Transcode converts inputPath into outputPath using the fixed profile.
// The call blocks for the full run of the tool; there is no enforced
// timeout beyond ctx.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	ctx, span := tracer.Start(ctx, "ffmpeg-transcode")
	defer span.End()

	start := time.Now()

	args := t.buildArgs(inputPath, outputPath)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", models.ErrTranscodeFailed, err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", models.ErrTranscodeFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", models.ErrTranscodeFailed, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.monitorOutput(ctx, stderrPipe)
	}()

	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: context canceled", models.ErrTranscodeFailed)
		}
		return fmt.Errorf("%w: %v", models.ErrTranscodeFailed, cmdErr)
	}

	metrics.StageDuration.WithLabelValues("transcode").Observe(time.Since(start).Seconds())

	return nil
}

// buildArgs constructs the ffmpeg command arguments.
func (t *Transcoder) buildArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=%d:-2", t.profile.ScaleWidth),
		"-c:v", t.profile.VideoCodec,
		"-preset", t.profile.Preset,
		"-crf", fmt.Sprintf("%d", t.profile.CRF),
		"-c:a", t.profile.AudioCodec,
		"-y",
		outputPath,
	}
}

// monitorOutput reads and logs ffmpeg's stderr.
func (t *Transcoder) monitorOutput(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
			line := scanner.Text()
			if strings.Contains(line, "frame=") || strings.Contains(line, "time=") {
				t.log.Debug("ffmpeg progress", "output", line)
			} else if strings.Contains(line, "error") || strings.Contains(line, "Error") {
				t.log.Warn("ffmpeg warning", "output", line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.log.Warn("ffmpeg output scanner error", "error", err)
	}
}
