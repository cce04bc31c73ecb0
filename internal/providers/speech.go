// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/AthunSujith/echoversa/internal/faults"
)

// RemoteSpeechProvider posts text to an HTTP TTS service and writes the
// returned audio to the requested path.
type RemoteSpeechProvider struct {
	name     string
	healthID string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRemoteSpeechProvider creates a provider for an HTTP TTS endpoint that
// accepts {"text","voice"} and answers with raw audio bytes.
func NewRemoteSpeechProvider(name, healthID, endpoint, apiKey string, client *http.Client) *RemoteSpeechProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteSpeechProvider{name: name, healthID: healthID, endpoint: endpoint, apiKey: apiKey, client: client}
}

func (p *RemoteSpeechProvider) Name() string       { return p.name }
func (p *RemoteSpeechProvider) Capability() string { return CapSpeech }
func (p *RemoteSpeechProvider) HealthID() string   { return p.healthID }

func (p *RemoteSpeechProvider) Invoke(ctx context.Context, req any) (any, error) {
	sr, ok := req.(SpeechRequest)
	if !ok {
		return nil, badRequest(p.name, req)
	}

	payload, err := json.Marshal(map[string]string{"text": sr.Text, "voice": sr.Voice})
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, p.healthID, "cannot encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, p.healthID, "bad endpoint", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, faults.Wrap(faults.Transient, p.healthID, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, faults.Transientf(p.healthID, "tts endpoint returned status %d", resp.StatusCode)
		}
		return nil, faults.Fatalf(p.healthID, "tts endpoint returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(sr.OutputPath), 0o755); err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "cannot create output directory", err)
	}
	f, err := os.Create(sr.OutputPath)
	if err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "cannot create output file", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(sr.OutputPath)
		return nil, faults.Wrap(faults.Transient, p.healthID, "writing audio failed", err)
	}
	if err := f.Close(); err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "cannot finalize audio file", err)
	}
	return SpeechResponse{Path: sr.OutputPath, Provider: p.name}, nil
}

// CommandSpeechProvider synthesizes speech via a local program, espeak on
// Linux or say on macOS.
type CommandSpeechProvider struct {
	name     string
	healthID string
	binary   string
}

// NewCommandSpeechProvider creates a provider around the platform's speech
// command. An empty binary picks the platform default.
func NewCommandSpeechProvider(name, healthID, binary string) *CommandSpeechProvider {
	if binary == "" {
		if runtime.GOOS == "darwin" {
			binary = "say"
		} else {
			binary = "espeak"
		}
	}
	return &CommandSpeechProvider{name: name, healthID: healthID, binary: binary}
}

func (p *CommandSpeechProvider) Name() string       { return p.name }
func (p *CommandSpeechProvider) Capability() string { return CapSpeech }
func (p *CommandSpeechProvider) HealthID() string   { return p.healthID }

// Binary returns the resolved speech command, after platform defaulting.
func (p *CommandSpeechProvider) Binary() string { return p.binary }

func (p *CommandSpeechProvider) Invoke(ctx context.Context, req any) (any, error) {
	sr, ok := req.(SpeechRequest)
	if !ok {
		return nil, badRequest(p.name, req)
	}

	if _, err := exec.LookPath(p.binary); err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "speech command not installed", err)
	}
	if err := os.MkdirAll(filepath.Dir(sr.OutputPath), 0o755); err != nil {
		return nil, faults.Wrap(faults.Resource, p.healthID, "cannot create output directory", err)
	}

	var args []string
	if p.binary == "say" {
		args = []string{"-o", sr.OutputPath, "--data-format=LEI16", sr.Text}
		if sr.Voice != "" {
			args = append([]string{"-v", sr.Voice}, args...)
		}
	} else {
		args = []string{"-w", sr.OutputPath, sr.Text}
		if sr.Voice != "" {
			args = append([]string{"-v", sr.Voice}, args...)
		}
	}

	if out, err := exec.CommandContext(ctx, p.binary, args...).CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.Fatalf(p.healthID, "%s failed: %s", p.binary, truncate(strings.TrimSpace(string(out)), 200))
	}

	if info, err := os.Stat(sr.OutputPath); err != nil || info.Size() == 0 {
		return nil, faults.Fatalf(p.healthID, "%s produced no audio", p.binary)
	}
	return SpeechResponse{Path: sr.OutputPath, Provider: p.name}, nil
}

// MockSpeechProvider writes a short silent WAV. Terminal link of the speech
// chain; the caller still gets a playable file.
type MockSpeechProvider struct {
	name string
}

// NewMockSpeechProvider creates the always-available terminal provider.
func NewMockSpeechProvider(name string) *MockSpeechProvider {
	return &MockSpeechProvider{name: name}
}

func (p *MockSpeechProvider) Name() string       { return p.name }
func (p *MockSpeechProvider) Capability() string { return CapSpeech }
func (p *MockSpeechProvider) HealthID() string   { return p.name }

func (p *MockSpeechProvider) Invoke(_ context.Context, req any) (any, error) {
	sr, ok := req.(SpeechRequest)
	if !ok {
		return nil, badRequest(p.name, req)
	}
	if sr.OutputPath == "" {
		return nil, errors.New("speech request without output path")
	}
	if err := os.MkdirAll(filepath.Dir(sr.OutputPath), 0o755); err != nil {
		return nil, faults.Wrap(faults.Resource, p.name, "cannot create output directory", err)
	}

	// Roughly 150 words per minute reading speed.
	words := len(strings.Fields(sr.Text))
	seconds := float64(words) / 2.5
	if seconds < 1 {
		seconds = 1
	}
	if err := writeWAV(sr.OutputPath, silentWAV(seconds)); err != nil {
		return nil, faults.Wrap(faults.Resource, p.name, "cannot write audio", err)
	}
	return SpeechResponse{Path: sr.OutputPath, Provider: p.name}, nil
}
