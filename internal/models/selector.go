// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package models

import (
	"sort"

	log "github.com/sirupsen/logrus"
)

// selection weights: output quality matters more than speed, but not
// overwhelmingly so.
const (
	qualityWeight = 0.6
	speedWeight   = 0.4
)

// Ranked pairs a spec with its selection score.
type Ranked struct {
	Spec  Spec    `json:"spec"`
	Score float64 `json:"score"`
}

// Selector picks runnable models for a hardware profile.
type Selector struct {
	registry *Registry
}

// NewSelector creates a selector over the given registry.
func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// Fits reports whether the profile satisfies a spec's requirements.
func Fits(s Spec, p HardwareProfile) bool {
	if float64(s.MinRAMGB) > p.AvailableRAMGB {
		return false
	}
	if s.RequiresGPU() {
		if !p.HasGPU {
			return false
		}
		if s.MinVRAMGB > 0 && p.VRAMGB > 0 && s.MinVRAMGB > p.VRAMGB {
			return false
		}
	}
	return true
}

// Score is the weighted rank of a spec.
func Score(s Spec) float64 {
	return float64(s.QualityScore)*qualityWeight + float64(s.SpeedScore)*speedWeight
}

// Select returns every runnable model for the profile, best first. Equal
// scores prefer the smaller download. An empty result means no local model
// fits and callers should fall through to remote providers.
func (sel *Selector) Select(p HardwareProfile) []Ranked {
	var out []Ranked
	for _, s := range sel.registry.All() {
		if !Fits(s, p) {
			continue
		}
		out = append(out, Ranked{Spec: s, Score: Score(s)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Spec.SizeGB < out[j].Spec.SizeGB
	})
	return out
}

// Best returns the top-ranked runnable model, or false when nothing fits.
func (sel *Selector) Best(p HardwareProfile) (Spec, bool) {
	ranked := sel.Select(p)
	if len(ranked) == 0 {
		log.WithField("available_ram_gb", p.AvailableRAMGB).Info("No local model fits this machine")
		return Spec{}, false
	}
	return ranked[0].Spec, true
}
