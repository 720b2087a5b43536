package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/passport/internal/account"
	"github.com/danghamo/passport/internal/api/middleware"
	"github.com/danghamo/passport/pkg/logger"
	"github.com/danghamo/passport/pkg/sse"
)

// SessionHandler streams session-state notifications to clients over SSE
type SessionHandler struct {
	service     *account.Service
	broadcaster *sse.Broadcaster
	logger      *logger.Logger
}

// NewSessionHandler creates a new session stream handler
func NewSessionHandler(service *account.Service, broadcaster *sse.Broadcaster, logger *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service:     service,
		broadcaster: broadcaster,
		logger:      logger.WithComponent("session-handler"),
	}
}

// HandleStream handles GET /api/v1/session.Stream
func (h *SessionHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Server-Sent Events not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")

	clientID := fmt.Sprintf("%s-%d", userID, time.Now().UnixNano())
	client := &sse.Client{
		ID:       clientID,
		UserID:   userID,
		Writer:   w,
		Flusher:  flusher,
		Done:     make(chan bool),
		LastSeen: time.Now(),
	}

	h.broadcaster.AddClient(client)
	defer h.broadcaster.RemoveClient(clientID)

	// Initial frame: connection ack plus the current user snapshot
	snapshot, err := json.Marshal(h.service.GetCurrentUserData())
	if err != nil {
		snapshot = []byte("{}")
	}
	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"client_id\":%q,\"user\":%s}\n\n", clientID, snapshot)
	flusher.Flush()

	h.logger.Debug("Session stream opened",
		zap.String("clientId", clientID),
		zap.String("userId", userID))

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-client.Done:
			h.logger.Debug("Session stream closed", zap.String("clientId", clientID))
			return
		case <-r.Context().Done():
			h.logger.Debug("Session stream context cancelled", zap.String("clientId", clientID))
			return
		case <-heartbeat.C:
			if err := h.sendHeartbeat(w, flusher); err != nil {
				h.logger.Warn("Failed to send heartbeat",
					zap.String("clientId", clientID),
					zap.Error(err))
				return
			}
		}
	}
}

func (h *SessionHandler) sendHeartbeat(w http.ResponseWriter, flusher http.Flusher) error {
	heartbeatData := fmt.Sprintf("data: {\"type\":\"heartbeat\",\"timestamp\":%q}\n\n", time.Now().Format(time.RFC3339))
	if _, err := w.Write([]byte(heartbeatData)); err != nil {
		return fmt.Errorf("heartbeat write failed: %w", err)
	}
	flusher.Flush()
	return nil
}
