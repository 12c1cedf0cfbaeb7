package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxDuration caps conversions at the first two minutes of input. Longer
	// videos are truncated, never rejected; the size check upstream is the
	// one that rejects.
	MaxDuration = 2 * time.Minute

	// OutputFPS is fixed to bound worst-case GIF size and processing time.
	OutputFPS = 15
)

// FFmpegService converts videos to GIF by driving the ffmpeg and ffprobe
// binaries.
type FFmpegService struct {
	ffmpegBin  string
	ffprobeBin string
}

func NewFFmpegService(ffmpegBin, ffprobeBin string) *FFmpegService {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpegService{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
	}
}

// CheckDependencies verifies both binaries are installed. Called once at
// worker startup so a misconfigured host fails fast instead of failing every
// job.
func (f *FFmpegService) CheckDependencies() error {
	if _, err := exec.LookPath(f.ffmpegBin); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", f.ffmpegBin)
	}
	if _, err := exec.LookPath(f.ffprobeBin); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", f.ffprobeBin)
	}
	return nil
}

// Duration probes the container duration of a local video file.
func (f *FFmpegService) Duration(ctx context.Context, inputPath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.ffprobeBin, probeArgs(inputPath)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeDuration(stdout.String())
}

// ConvertToGIF transcodes a local video file to a GIF next to it and returns
// the output path. Output is always capped at MaxDuration and rendered at
// OutputFPS.
func (f *FFmpegService) ConvertToGIF(ctx context.Context, inputPath string) (string, error) {
	if dur, err := f.Duration(ctx, inputPath); err == nil && dur > MaxDuration {
		log.Printf("video is %.0fs, truncating to the first %.0fs", dur.Seconds(), MaxDuration.Seconds())
	}

	outputPath := inputPath + ".converted.gif"
	cmd := exec.CommandContext(ctx, f.ffmpegBin, convertArgs(inputPath, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return outputPath, nil
}

func convertArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-t", strconv.Itoa(int(MaxDuration.Seconds())),
		"-vf", fmt.Sprintf("fps=%d", OutputFPS),
		"-loop", "0",
		outputPath,
	}
}

func probeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
}

func parseProbeDuration(out string) (time.Duration, error) {
	s := strings.TrimSpace(out)
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
