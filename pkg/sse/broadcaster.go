package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/passport/internal/api/jsonrpcx"
	"github.com/danghamo/passport/pkg/logger"
)

// Client represents a connected SSE client
type Client struct {
	ID       string
	UserID   string
	Writer   http.ResponseWriter
	Flusher  http.Flusher
	Done     chan bool
	LastSeen time.Time
	mutex    sync.Mutex // Protects concurrent writes to this client
}

// userMessage is a notification targeted to one user's clients
type userMessage struct {
	userID       string
	notification jsonrpcx.JsonRpcNotification
}

// Broadcaster manages SSE connections and delivers session notifications
type Broadcaster struct {
	logger        *logger.Logger
	clients       map[string]*Client
	userClients   map[string][]*Client
	mutex         sync.RWMutex
	broadcast     chan jsonrpcx.JsonRpcNotification
	userBroadcast chan userMessage
	shutdown      chan struct{}
}

// NewBroadcaster creates a new SSE broadcaster
func NewBroadcaster(log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	b := &Broadcaster{
		logger:        log.WithComponent("sse-broadcaster"),
		clients:       make(map[string]*Client),
		userClients:   make(map[string][]*Client),
		broadcast:     make(chan jsonrpcx.JsonRpcNotification, 256),
		userBroadcast: make(chan userMessage, 256),
		shutdown:      make(chan struct{}),
	}

	go b.broadcastLoop()
	go b.userBroadcastLoop()

	return b
}

// AddClient adds a new SSE client
func (b *Broadcaster) AddClient(client *Client) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.clients[client.ID] = client
	b.userClients[client.UserID] = append(b.userClients[client.UserID], client)

	b.logger.Debug("SSE client connected",
		zap.String("clientId", client.ID),
		zap.String("userId", client.UserID))
}

// RemoveClient removes an SSE client
func (b *Broadcaster) RemoveClient(clientID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	client, exists := b.clients[clientID]
	if !exists {
		return
	}

	select {
	case <-client.Done:
	default:
		close(client.Done)
	}
	delete(b.clients, clientID)

	if userClients := b.userClients[client.UserID]; userClients != nil {
		for i, uc := range userClients {
			if uc.ID == clientID {
				b.userClients[client.UserID] = append(userClients[:i], userClients[i+1:]...)
				break
			}
		}
		if len(b.userClients[client.UserID]) == 0 {
			delete(b.userClients, client.UserID)
		}
	}

	b.logger.Debug("SSE client disconnected",
		zap.String("clientId", clientID),
		zap.String("userId", client.UserID))
}

// ClientCount returns the number of connected clients
func (b *Broadcaster) ClientCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}

// BroadcastToUsers queues a notification for every client of the target users
func (b *Broadcaster) BroadcastToUsers(targetUsers []string, notification jsonrpcx.JsonRpcNotification) {
	for _, userID := range targetUsers {
		select {
		case b.userBroadcast <- userMessage{userID: userID, notification: notification}:
		case <-b.shutdown:
			return
		default:
			b.logger.Warn("User broadcast queue full, dropping notification",
				zap.String("userId", userID),
				zap.String("method", notification.Method))
		}
	}
}

// BroadcastToAll queues a notification for every connected client
func (b *Broadcaster) BroadcastToAll(notification jsonrpcx.JsonRpcNotification) {
	select {
	case b.broadcast <- notification:
	case <-b.shutdown:
	default:
		b.logger.Warn("Broadcast queue full, dropping notification",
			zap.String("method", notification.Method))
	}
}

// Shutdown stops the broadcaster and disconnects every client
func (b *Broadcaster) Shutdown() {
	close(b.shutdown)

	b.mutex.Lock()
	defer b.mutex.Unlock()
	for id, client := range b.clients {
		select {
		case <-client.Done:
		default:
			close(client.Done)
		}
		delete(b.clients, id)
	}
	b.userClients = make(map[string][]*Client)
}

func (b *Broadcaster) broadcastLoop() {
	for {
		select {
		case notification := <-b.broadcast:
			b.mutex.RLock()
			clients := make([]*Client, 0, len(b.clients))
			for _, c := range b.clients {
				clients = append(clients, c)
			}
			b.mutex.RUnlock()

			for _, client := range clients {
				b.writeToClient(client, notification)
			}
		case <-b.shutdown:
			return
		}
	}
}

func (b *Broadcaster) userBroadcastLoop() {
	for {
		select {
		case msg := <-b.userBroadcast:
			b.mutex.RLock()
			clients := append([]*Client(nil), b.userClients[msg.userID]...)
			b.mutex.RUnlock()

			for _, client := range clients {
				b.writeToClient(client, msg.notification)
			}
		case <-b.shutdown:
			return
		}
	}
}

// writeToClient writes one SSE frame to a client, removing it on failure
func (b *Broadcaster) writeToClient(client *Client, notification jsonrpcx.JsonRpcNotification) {
	payload, err := json.Marshal(notification)
	if err != nil {
		b.logger.Error("Failed to marshal SSE notification", zap.Error(err))
		return
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	select {
	case <-client.Done:
		return
	default:
	}

	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", payload); err != nil {
		b.logger.Debug("Failed to write to SSE client, removing",
			zap.String("clientId", client.ID),
			zap.Error(err))
		go b.RemoveClient(client.ID)
		return
	}
	client.Flusher.Flush()
	client.LastSeen = time.Now()
}
