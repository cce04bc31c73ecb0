// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package providers implements the concrete backends behind each
// capability. Every provider satisfies the fallback executor's Provider
// interface; ordering and failover live in the executor, not here.
package providers

import "fmt"

// Capability names. These are the executor chain keys and the metric op ids.
const (
	CapGenerate = "generate"
	CapSpeech   = "speech"
	CapMix      = "mix"
)

// TextRequest asks for generated text.
type TextRequest struct {
	// Prompt is the user transcript or seed text
	Prompt string `json:"prompt"`

	// MaxTokens bounds the response length; zero uses the provider default
	MaxTokens int `json:"max_tokens,omitempty"`
}

// TextResponse carries generated text and which backend produced it.
type TextResponse struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// SpeechRequest asks for synthesized audio.
type SpeechRequest struct {
	Text string `json:"text"`

	// Voice is a provider-specific voice id; empty uses the default
	Voice string `json:"voice,omitempty"`

	// OutputPath is where the WAV file is written
	OutputPath string `json:"output_path"`
}

// SpeechResponse names the written audio file.
type SpeechResponse struct {
	Path     string `json:"path"`
	Provider string `json:"provider"`
}

// MixRequest asks for a voice track overlaid with background music.
type MixRequest struct {
	VoicePath string `json:"voice_path"`

	// MusicPath may be empty; mixing then degrades to a passthrough copy
	MusicPath string `json:"music_path,omitempty"`

	OutputPath string `json:"output_path"`

	// MusicGain scales the music track; zero means the default 0.3
	MusicGain float64 `json:"music_gain,omitempty"`
}

// MixResponse names the mixed audio file.
type MixResponse struct {
	Path     string `json:"path"`
	Provider string `json:"provider"`
}

func badRequest(provider string, req any) error {
	return fmt.Errorf("provider %s: unexpected request type %T", provider, req)
}
