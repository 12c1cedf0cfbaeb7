package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFakeBinary(t *testing.T, dir, name, script string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/usr/bin/env bash\n"+script), 0755); err != nil {
		t.Fatalf("failed to write fake %s: %v", name, err)
	}
	return path
}

func TestConvertArgs_CapsDurationAndFrameRate(t *testing.T) {
	t.Parallel()

	args := strings.Join(convertArgs("/tmp/in.mp4", "/tmp/out.gif"), " ")

	if !strings.Contains(args, "-t 120") {
		t.Errorf("expected 120s cap in args: %s", args)
	}
	if !strings.Contains(args, "fps=15") {
		t.Errorf("expected fps=15 filter in args: %s", args)
	}
	if !strings.Contains(args, "-y") {
		t.Errorf("expected overwrite flag in args: %s", args)
	}
	if !strings.HasSuffix(args, "/tmp/out.gif") {
		t.Errorf("expected output path last in args: %s", args)
	}
}

func TestParseProbeDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		out     string
		want    time.Duration
		wantErr bool
	}{
		{name: "whole seconds", out: "90\n", want: 90 * time.Second},
		{name: "fractional", out: "12.5\n", want: 12500 * time.Millisecond},
		{name: "surrounding whitespace", out: "  3.0  \n", want: 3 * time.Second},
		{name: "garbage", out: "N/A\n", wantErr: true},
		{name: "empty", out: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeDuration(tt.out)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseProbeDuration failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCheckDependencies_MissingBinary(t *testing.T) {
	t.Parallel()

	svc := NewFFmpegService("definitely-not-installed-ffmpeg", "definitely-not-installed-ffprobe")
	err := svc.CheckDependencies()
	if err == nil {
		t.Fatal("expected error for missing binaries")
	}
	if !strings.Contains(err.Error(), "missing dependency") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFFmpegService_ConvertToGIF(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	ffmpeg := writeFakeBinary(t, tmpDir, "ffmpeg", `printf 'GIF89a' > "${@: -1}"`+"\n")
	ffprobe := writeFakeBinary(t, tmpDir, "ffprobe", "echo 42.0\n")

	inputPath := filepath.Join(tmpDir, "input.mp4")
	if err := os.WriteFile(inputPath, []byte("dummy"), 0644); err != nil {
		t.Fatalf("failed to write temp input: %v", err)
	}

	svc := NewFFmpegService(ffmpeg, ffprobe)
	outputPath, err := svc.ConvertToGIF(context.Background(), inputPath)
	if err != nil {
		t.Fatalf("ConvertToGIF failed: %v", err)
	}

	if !strings.HasSuffix(outputPath, ".gif") {
		t.Errorf("expected .gif output, got %s", outputPath)
	}
	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if string(data) != "GIF89a" {
		t.Errorf("unexpected output contents: %q", data)
	}
}

func TestFFmpegService_ConvertToGIF_CommandFailure(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	ffmpeg := writeFakeBinary(t, tmpDir, "ffmpeg", "echo 'corrupt input' >&2\nexit 1\n")
	ffprobe := writeFakeBinary(t, tmpDir, "ffprobe", "echo 10\n")

	inputPath := filepath.Join(tmpDir, "input.mp4")
	if err := os.WriteFile(inputPath, []byte("dummy"), 0644); err != nil {
		t.Fatalf("failed to write temp input: %v", err)
	}

	svc := NewFFmpegService(ffmpeg, ffprobe)
	_, err := svc.ConvertToGIF(context.Background(), inputPath)
	if err == nil {
		t.Fatal("expected error for failing ffmpeg")
	}
	if !strings.Contains(err.Error(), "corrupt input") {
		t.Errorf("expected stderr in error, got: %v", err)
	}
	if _, statErr := os.Stat(inputPath + ".converted.gif"); !os.IsNotExist(statErr) {
		t.Error("expected partial output to be removed")
	}
}

func TestFFmpegService_Duration(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	ffprobe := writeFakeBinary(t, tmpDir, "ffprobe", "echo 150.25\n")

	svc := NewFFmpegService("ffmpeg", ffprobe)
	dur, err := svc.Duration(context.Background(), "/tmp/whatever.mp4")
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if dur != 150250*time.Millisecond {
		t.Errorf("expected 150.25s, got %v", dur)
	}
}
