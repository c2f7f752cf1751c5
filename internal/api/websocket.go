package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradebot-core/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsBufferSize = 100
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams bus events as JSON envelopes. ?tenant= keeps only one
// tenant's events; ?types=trade,rejection keeps only the listed event types.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	tenant := c.Query("tenant")
	topics := selectTopics(c.Query("types"))

	merged := make(chan events.Envelope, wsBufferSize)
	for _, topic := range topics {
		stream, unsub := s.Bus.Subscribe(topic, wsBufferSize)
		defer unsub()
		go func(stream <-chan events.Envelope) {
			for env := range stream {
				select {
				case merged <- env:
				default: // slow reader, drop
				}
			}
		}(stream)
	}

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case env := <-merged:
			if tenant != "" && env.TenantID != tenant {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				s.Log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}

func selectTopics(filter string) []events.Event {
	all := events.Topics()
	if filter == "" {
		return all
	}
	want := make(map[string]struct{})
	for _, t := range strings.Split(filter, ",") {
		if t = strings.TrimSpace(t); t != "" {
			want[t] = struct{}{}
		}
	}
	var out []events.Event
	for _, e := range all {
		if _, ok := want[string(e)]; ok {
			out = append(out, e)
		}
	}
	return out
}
