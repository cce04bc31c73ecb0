// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the HTTP surface: capability endpoints routed through
// the fallback executor, diagnostics for health, models and hardware, and a
// websocket notification stream.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/AthunSujith/echoversa/internal/faults"
	"github.com/AthunSujith/echoversa/internal/fallback"
	"github.com/AthunSujith/echoversa/internal/health"
	"github.com/AthunSujith/echoversa/internal/metrics"
	"github.com/AthunSujith/echoversa/internal/models"
	"github.com/AthunSujith/echoversa/internal/notify"
	"github.com/AthunSujith/echoversa/internal/probe"
	"github.com/AthunSujith/echoversa/internal/providers"
)

// Server wires the core components behind the HTTP routes.
type Server struct {
	executor   *fallback.Executor
	tracker    *health.Tracker
	hub        *notify.Hub
	prober     *probe.Prober
	registry   *models.Registry
	downloader *models.Downloader
	loader     *models.Loader
	store      *metrics.Store
	profile    models.HardwareProfile

	// outputDir is where generated audio files are written
	outputDir string
}

// NewServer creates the HTTP surface over already-constructed components.
func NewServer(executor *fallback.Executor, tracker *health.Tracker, hub *notify.Hub,
	prober *probe.Prober, registry *models.Registry, downloader *models.Downloader,
	loader *models.Loader, store *metrics.Store, profile models.HardwareProfile, outputDir string) *Server {
	return &Server{
		executor: executor, tracker: tracker, hub: hub, prober: prober,
		registry: registry, downloader: downloader, loader: loader,
		store: store, profile: profile, outputDir: outputDir,
	}
}

// Router builds the gin engine with every route installed.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/models", s.handleModels)
		v1.GET("/hardware", s.handleHardware)
		v1.GET("/metrics", s.handleMetrics)
		v1.GET("/notifications", s.handleNotifications)
		v1.GET("/events", s.handleEvents)

		v1.POST("/generate", s.handleGenerate)
		v1.POST("/speech", s.handleSpeech)
		v1.POST("/mix", s.handleMix)
		v1.POST("/probe/:id", s.handleProbe)
	}
	return router
}

// healthEntry is one component's row in the health response.
type healthEntry struct {
	State               health.State `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Reason              string       `json:"reason,omitempty"`
	LastSuccess         time.Time    `json:"last_success,omitempty"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	snapshot := s.tracker.Snapshot()
	out := make(map[string]healthEntry, len(snapshot))
	degraded := false
	for id, h := range snapshot {
		out[id] = healthEntry{
			State:               h.State,
			ConsecutiveFailures: h.ConsecutiveFailures,
			Reason:              h.Reason,
			LastSuccess:         h.LastSuccess,
			LastFailure:         h.LastFailure,
		}
		if h.State != health.StateAvailable {
			degraded = true
		}
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "components": out})
}

// modelEntry is one catalog row plus its local lifecycle state.
type modelEntry struct {
	models.Spec
	Downloaded bool   `json:"downloaded"`
	Loaded     bool   `json:"loaded"`
	Score      float64 `json:"score"`
	Fits       bool   `json:"fits"`
}

func (s *Server) handleModels(c *gin.Context) {
	all := s.registry.All()
	out := make([]modelEntry, 0, len(all))
	for _, spec := range all {
		loaded := false
		if inst, ok := s.loader.Get(spec.Name); ok {
			loaded = inst.State == models.InstanceReady
		}
		out = append(out, modelEntry{
			Spec:       spec,
			Downloaded: s.downloader.Downloaded(spec),
			Loaded:     loaded,
			Score:      models.Score(spec),
			Fits:       models.Fits(spec, s.profile),
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

func (s *Server) handleHardware(c *gin.Context) {
	c.JSON(http.StatusOK, s.profile)
}

func (s *Server) handleMetrics(c *gin.Context) {
	out := make(map[string]metrics.Sample)
	for _, name := range s.store.Names() {
		if sample, ok := s.store.Latest(name); ok {
			out[name] = sample
		}
	}
	c.JSON(http.StatusOK, gin.H{"latest": out})
}

func (s *Server) handleNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": s.hub.History()})
}

type generateRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	MaxTokens int    `json:"max_tokens"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.executor.Execute(c.Request.Context(), providers.CapGenerate,
		providers.TextRequest{Prompt: req.Prompt, MaxTokens: req.MaxTokens})
	if err != nil {
		s.writeExecuteError(c, err)
		return
	}

	tr := resp.(providers.TextResponse)
	c.JSON(http.StatusOK, gin.H{
		"text":          tr.Text,
		"provider_used": tr.Provider,
		"model":         tr.Model,
	})
}

type speechRequest struct {
	Text  string `json:"text" binding:"required"`
	Voice string `json:"voice"`
}

func (s *Server) handleSpeech(c *gin.Context) {
	var req speechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := filepath.Join(s.outputDir, fmt.Sprintf("speech-%s.wav", uuid.NewString()))
	resp, err := s.executor.Execute(c.Request.Context(), providers.CapSpeech,
		providers.SpeechRequest{Text: req.Text, Voice: req.Voice, OutputPath: out})
	if err != nil {
		s.writeExecuteError(c, err)
		return
	}

	sr := resp.(providers.SpeechResponse)
	c.JSON(http.StatusOK, gin.H{"path": sr.Path, "provider_used": sr.Provider})
}

type mixRequest struct {
	VoicePath string  `json:"voice_path" binding:"required"`
	MusicPath string  `json:"music_path"`
	MusicGain float64 `json:"music_gain"`
}

func (s *Server) handleMix(c *gin.Context) {
	var req mixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := filepath.Join(s.outputDir, fmt.Sprintf("mix-%s.wav", uuid.NewString()))
	resp, err := s.executor.Execute(c.Request.Context(), providers.CapMix,
		providers.MixRequest{VoicePath: req.VoicePath, MusicPath: req.MusicPath,
			MusicGain: req.MusicGain, OutputPath: out})
	if err != nil {
		s.writeExecuteError(c, err)
		return
	}

	mr := resp.(providers.MixResponse)
	c.JSON(http.StatusOK, gin.H{"path": mr.Path, "provider_used": mr.Provider})
}

func (s *Server) handleProbe(c *gin.Context) {
	id := c.Param("id")
	res, err := s.prober.Run(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// writeExecuteError maps executor failures onto HTTP. Chain exhaustion is a
// 503 with the user-presentable message; everything else is opaque.
func (s *Server) writeExecuteError(c *gin.Context, err error) {
	var chainErr *faults.ChainError
	if errors.As(err, &chainErr) {
		s.hub.Publish(notify.Notification{
			Severity:        notify.SeverityWarning,
			ComponentID:     chainErr.Capability,
			UserMessage:     chainErr.UserMessage(),
			TechnicalDetail: chainErr.TechnicalDetail(),
		})
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  chainErr.UserMessage(),
			"detail": chainErr.TechnicalDetail(),
		})
		return
	}
	if errors.Is(err, c.Request.Context().Err()) && c.Request.Context().Err() != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request cancelled"})
		return
	}
	log.Errorf("Capability request failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
