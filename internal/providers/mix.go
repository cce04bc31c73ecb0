// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package providers

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/AthunSujith/echoversa/internal/faults"
)

const defaultMusicGain = 0.3

// FFmpegMixProvider mixes voice and music with ffmpeg's amix filter. It
// handles any input format ffmpeg understands.
type FFmpegMixProvider struct {
	name     string
	healthID string
	binary   string
}

// NewFFmpegMixProvider creates the ffmpeg-backed mixer. An empty binary
// defaults to "ffmpeg" on PATH.
func NewFFmpegMixProvider(name, healthID, binary string) *FFmpegMixProvider {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegMixProvider{name: name, healthID: healthID, binary: binary}
}

func (p *FFmpegMixProvider) Name() string       { return p.name }
func (p *FFmpegMixProvider) Capability() string { return CapMix }
func (p *FFmpegMixProvider) HealthID() string   { return p.healthID }

func (p *FFmpegMixProvider) Invoke(ctx context.Context, req any) (any, error) {
	mr, ok := req.(MixRequest)
	if !ok {
		return nil, badRequest(p.name, req)
	}
	if mr.MusicPath == "" {
		return passthrough(p.name, mr)
	}

	if _, err := exec.LookPath(p.binary); err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "ffmpeg not installed", err)
	}
	if err := os.MkdirAll(filepath.Dir(mr.OutputPath), 0o755); err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "cannot create output directory", err)
	}

	gain := mr.MusicGain
	if gain == 0 {
		gain = defaultMusicGain
	}

	filter := fmt.Sprintf("[1:a]volume=%.2f[m];[0:a][m]amix=inputs=2:duration=first:dropout_transition=2", gain)
	args := []string{
		"-y",
		"-i", mr.VoicePath,
		"-i", mr.MusicPath,
		"-filter_complex", filter,
		mr.OutputPath,
	}

	if out, err := exec.CommandContext(ctx, p.binary, args...).CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.Fatalf(p.healthID, "ffmpeg failed: %s", truncate(lastLine(string(out)), 200))
	}
	return MixResponse{Path: mr.OutputPath, Provider: p.name}, nil
}

// WaveMixProvider overlays two 16-bit PCM WAV files without external tools.
// It is the fallback when ffmpeg is missing.
type WaveMixProvider struct {
	name     string
	healthID string
}

// NewWaveMixProvider creates the pure-Go mixer.
func NewWaveMixProvider(name, healthID string) *WaveMixProvider {
	return &WaveMixProvider{name: name, healthID: healthID}
}

func (p *WaveMixProvider) Name() string       { return p.name }
func (p *WaveMixProvider) Capability() string { return CapMix }
func (p *WaveMixProvider) HealthID() string   { return p.healthID }

func (p *WaveMixProvider) Invoke(ctx context.Context, req any) (any, error) {
	mr, ok := req.(MixRequest)
	if !ok {
		return nil, badRequest(p.name, req)
	}
	if mr.MusicPath == "" {
		return passthrough(p.name, mr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	voice, err := readWAV(mr.VoicePath)
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, p.healthID, "cannot read voice track", err)
	}
	music, err := readWAV(mr.MusicPath)
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, p.healthID, "cannot read music track", err)
	}
	if voice.sampleRate != music.sampleRate || voice.channels != music.channels {
		return nil, faults.Fatalf(p.healthID,
			"track formats differ (%dHz/%dch vs %dHz/%dch), resampling needs ffmpeg",
			voice.sampleRate, voice.channels, music.sampleRate, music.channels)
	}

	gain := mr.MusicGain
	if gain == 0 {
		gain = defaultMusicGain
	}

	if err := os.MkdirAll(filepath.Dir(mr.OutputPath), 0o755); err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "cannot create output directory", err)
	}
	if err := writeWAV(mr.OutputPath, overlay(voice, music, gain)); err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "cannot write mixed audio", err)
	}
	return MixResponse{Path: mr.OutputPath, Provider: p.name}, nil
}

// passthrough copies the voice track to the output untouched. Used by every
// mixer when there is no music to add.
func passthrough(provider string, mr MixRequest) (any, error) {
	if mr.VoicePath == mr.OutputPath {
		return MixResponse{Path: mr.OutputPath, Provider: provider}, nil
	}
	if err := os.MkdirAll(filepath.Dir(mr.OutputPath), 0o755); err != nil {
		return nil, faults.Wrap(faults.Resource, provider, "cannot create output directory", err)
	}

	src, err := os.Open(mr.VoicePath)
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, provider, "cannot open voice track", err)
	}
	defer src.Close()

	dst, err := os.Create(mr.OutputPath)
	if err != nil {
		return nil, faults.Wrap(faults.Resource, provider, "cannot create output file", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(mr.OutputPath)
		return nil, faults.Wrap(faults.Resource, provider, "copy failed", err)
	}
	if err := dst.Close(); err != nil {
		return nil, faults.Wrap(faults.Resource, provider, "cannot finalize output file", err)
	}
	return MixResponse{Path: mr.OutputPath, Provider: provider}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
