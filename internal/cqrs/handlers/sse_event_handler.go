package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/passport/internal/api/jsonrpcx"
	cqrsevents "github.com/danghamo/passport/internal/cqrs"
	"github.com/danghamo/passport/pkg/logger"
)

// SSEBroadcaster interface for broadcasting SSE messages
type SSEBroadcaster interface {
	BroadcastToUsers(targetUsers []string, notification jsonrpcx.JsonRpcNotification)
	BroadcastToAll(notification jsonrpcx.JsonRpcNotification)
}

// SSEEventHandler converts account events into SSE notifications
type SSEEventHandler struct {
	sseBroadcaster SSEBroadcaster
	logger         *logger.Logger
}

// NewSSEEventHandler creates a new SSE event handler
func NewSSEEventHandler(sseBroadcaster SSEBroadcaster, logger *logger.Logger) *SSEEventHandler {
	return &SSEEventHandler{
		sseBroadcaster: sseBroadcaster,
		logger:         logger.WithComponent("sse-event-handler"),
	}
}

// HandleSessionChangedEvent pushes the session delta to the affected user's clients
func (h *SSEEventHandler) HandleSessionChangedEvent(ctx context.Context, event *cqrsevents.SessionChangedEvent) error {
	h.logger.Debug("Handling session changed event",
		zap.String("userId", event.UserID))

	notification := jsonrpcx.JsonRpcNotification{
		Jsonrpc: "2.0",
		Method:  "session.changed",
		Params: map[string]interface{}{
			"user_id":   event.UserID,
			"current":   event.Current,
			"delta":     event.Delta,
			"timestamp": event.Timestamp.Format(time.RFC3339),
		},
	}

	if event.UserID != "" {
		h.sseBroadcaster.BroadcastToUsers([]string{event.UserID}, notification)
	}

	return nil
}

// HandleProfileCreatedEvent announces a newly persisted profile
func (h *SSEEventHandler) HandleProfileCreatedEvent(ctx context.Context, event *cqrsevents.ProfileCreatedEvent) error {
	h.logger.Debug("Handling profile created event",
		zap.String("userId", event.UserID),
		zap.String("authMethod", event.AuthMethod))

	notification := jsonrpcx.JsonRpcNotification{
		Jsonrpc: "2.0",
		Method:  "profile.created",
		Params: map[string]interface{}{
			"user_id":     event.UserID,
			"auth_method": event.AuthMethod,
			"timestamp":   event.Timestamp.Format(time.RFC3339),
		},
	}

	h.sseBroadcaster.BroadcastToUsers([]string{event.UserID}, notification)

	return nil
}

// HandleProfileDeletedEvent notifies the user's clients that the profile is gone
func (h *SSEEventHandler) HandleProfileDeletedEvent(ctx context.Context, event *cqrsevents.ProfileDeletedEvent) error {
	h.logger.Debug("Handling profile deleted event",
		zap.String("userId", event.UserID))

	notification := jsonrpcx.JsonRpcNotification{
		Jsonrpc: "2.0",
		Method:  "profile.deleted",
		Params: map[string]interface{}{
			"user_id":   event.UserID,
			"timestamp": event.Timestamp.Format(time.RFC3339),
		},
	}

	h.sseBroadcaster.BroadcastToUsers([]string{event.UserID}, notification)

	return nil
}
