// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/AthunSujith/echoversa/internal/faults"
	"github.com/AthunSujith/echoversa/internal/models"
)

// RemoteTextProvider calls an OpenAI-style chat completions endpoint.
type RemoteTextProvider struct {
	name     string
	healthID string
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewRemoteTextProvider creates a provider for an OpenAI-compatible API.
func NewRemoteTextProvider(name, healthID, endpoint, apiKey, model string, client *http.Client) *RemoteTextProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteTextProvider{
		name: name, healthID: healthID,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey, model: model, client: client,
	}
}

func (p *RemoteTextProvider) Name() string       { return p.name }
func (p *RemoteTextProvider) Capability() string { return CapGenerate }
func (p *RemoteTextProvider) HealthID() string   { return p.healthID }

func (p *RemoteTextProvider) Invoke(ctx context.Context, req any) (any, error) {
	tr, ok := req.(TextRequest)
	if !ok {
		return nil, badRequest(p.name, req)
	}

	maxTokens := tr.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}
	payload, err := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": tr.Prompt},
		},
		"max_tokens": maxTokens,
	})
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, p.healthID, "cannot encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/v1/chat/completions", bytes.NewReader(payload))
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

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, faults.Wrap(faults.Transient, p.healthID, "reading response failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, faults.Transientf(p.healthID, "endpoint returned status %d", resp.StatusCode)
		}
		return nil, faults.Fatalf(p.healthID, "endpoint returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	text := gjson.GetBytes(body, "choices.0.message.content").String()
	if text == "" {
		return nil, faults.Fatalf(p.healthID, "endpoint returned no content")
	}
	return TextResponse{Text: text, Provider: p.name, Model: p.model}, nil
}

// LocalTextProvider serves generation from a locally cached model. Each
// invocation selects the best model for this machine, ensures its weights
// are downloaded and loaded, and runs the inference command against them.
type LocalTextProvider struct {
	name     string
	healthID string

	selector *models.Selector
	loader   *models.Loader
	profile  models.HardwareProfile

	// inferCmd is the inference binary; it receives the model path and
	// prompt as arguments and writes the completion to stdout
	inferCmd  string
	inferArgs []string

	progress models.ProgressFunc
}

// NewLocalTextProvider wires the model stack behind a provider. inferArgs
// may contain the placeholders {model} and {prompt}.
func NewLocalTextProvider(name, healthID string, selector *models.Selector, loader *models.Loader,
	profile models.HardwareProfile, inferCmd string, inferArgs []string, progress models.ProgressFunc) *LocalTextProvider {
	return &LocalTextProvider{
		name: name, healthID: healthID,
		selector: selector, loader: loader, profile: profile,
		inferCmd: inferCmd, inferArgs: inferArgs, progress: progress,
	}
}

func (p *LocalTextProvider) Name() string       { return p.name }
func (p *LocalTextProvider) Capability() string { return CapGenerate }
func (p *LocalTextProvider) HealthID() string   { return p.healthID }

func (p *LocalTextProvider) Invoke(ctx context.Context, req any) (any, error) {
	tr, ok := req.(TextRequest)
	if !ok {
		return nil, badRequest(p.name, req)
	}

	spec, ok := p.selector.Best(p.profile)
	if !ok {
		return nil, faults.New(faults.Resource, p.healthID, "no local model fits this machine")
	}

	inst, err := p.loader.Load(ctx, spec, p.progress)
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(p.inferArgs))
	for _, a := range p.inferArgs {
		a = strings.ReplaceAll(a, "{model}", inst.Path)
		a = strings.ReplaceAll(a, "{prompt}", tr.Prompt)
		args = append(args, a)
	}

	out, err := exec.CommandContext(ctx, p.inferCmd, args...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, faults.Fatalf(p.healthID, "inference command failed: %s", truncate(string(exitErr.Stderr), 200))
		}
		return nil, faults.Wrap(faults.Resource, p.healthID, "inference command could not run", err)
	}

	text := strings.TrimSpace(string(out))
	if text == "" {
		return nil, faults.Fatalf(p.healthID, "inference produced no output")
	}
	log.WithFields(log.Fields{"model": spec.Name, "provider": p.name}).Debug("Local generation served")
	return TextResponse{Text: text, Provider: p.name, Model: spec.Name}, nil
}

// MockTextProvider returns deterministic supportive content. It is the
// terminal link of the generation chain and never fails.
type MockTextProvider struct {
	name string
}

// NewMockTextProvider creates the always-available terminal provider.
func NewMockTextProvider(name string) *MockTextProvider {
	return &MockTextProvider{name: name}
}

func (p *MockTextProvider) Name() string       { return p.name }
func (p *MockTextProvider) Capability() string { return CapGenerate }
func (p *MockTextProvider) HealthID() string   { return p.name }

var supportiveStatements = []string{
	"Thank you for sharing that. Your feelings are valid, and it takes courage to express them.",
	"I hear you. Whatever you are carrying right now, you do not have to carry it alone.",
	"What you wrote matters. Be as kind to yourself as you would be to a good friend.",
	"It sounds like a lot is on your mind. Taking a moment to reflect, as you just did, is a real strength.",
}

var shortPoems = []string{
	"Quiet morning light,\nyour words settle like soft rain.\nRoom enough to breathe.",
	"Even heavy clouds\ndrift apart when given time.\nSo too will this weight.",
	"Small steps on the path,\neach one counts, each one is yours.\nThe way opens up.",
	"A voice finds the air,\nwhat was held is held no more.\nLighter now, and heard.",
}

func (p *MockTextProvider) Invoke(_ context.Context, req any) (any, error) {
	tr, ok := req.(TextRequest)
	if !ok {
		return nil, badRequest(p.name, req)
	}

	h := fnv.New32a()
	h.Write([]byte(tr.Prompt))
	idx := int(h.Sum32())
	statement := supportiveStatements[idx%len(supportiveStatements)]
	poem := shortPoems[idx%len(shortPoems)]

	return TextResponse{
		Text:     fmt.Sprintf("%s\n\n%s", statement, poem),
		Provider: p.name,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
