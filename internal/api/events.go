// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const eventPingInterval = 30 * time.Second

// handleEvents upgrades the connection and streams notifications as JSON
// frames until the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debugf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	notifications, cancel := s.hub.Subscribe()
	defer cancel()

	// Reader goroutine notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Replay retained history so late subscribers see recent conditions.
	for _, n := range s.hub.History() {
		if err := conn.WriteJSON(n); err != nil {
			return
		}
	}

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case n := <-notifications:
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
