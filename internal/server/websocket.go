package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ProgressPayload represents a progress update.
type ProgressPayload struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Progress   float64 `json:"progress"` // 0.0 to 1.0
	BytesSent  int64   `json:"bytesSent,omitempty"`
	TotalBytes int64   `json:"totalBytes,omitempty"`
}

// ChunkPayload reports one streaming DATA_CHUNK frame's assembly
// result, so a front end can render a per-chunk CRC map instead of
// only a scrolling log line (spec §4.I's chunk bitmap).
type ChunkPayload struct {
	SeqNum   uint32 `json:"seqNum"`
	CRCValid bool   `json:"crcValid"`
}

// MetadataPayload reports a streaming transfer's METADATA frame once
// it has passed CRC and started an assembly.
type MetadataPayload struct {
	Name          string `json:"name"`
	TotalChunks   uint32 `json:"totalChunks"`
	TotalFileSize uint32 `json:"totalFileSize"`
}

// PartialPayload reports a streaming transfer stopped before every
// chunk arrived (spec §7's Partial(receivedChunks, missing[]) session
// outcome), carrying enough for a front end to show what's missing
// instead of just going silent.
type PartialPayload struct {
	Name     string   `json:"name"`
	Received uint32   `json:"received"`
	Total    uint32   `json:"total"`
	Missing  []uint32 `json:"missing"`
}

// WSHub manages WebSocket connections.
type WSHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]bool),
	}
}

// AddClient registers a new WebSocket connection.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	log.Printf("WebSocket client connected (%d total)", len(h.clients))
}

// RemoveClient removes a WebSocket connection.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
	log.Printf("WebSocket client disconnected (%d remaining)", len(h.clients))
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WebSocket marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		err := conn.WriteMessage(websocket.TextMessage, data)
		if err != nil {
			log.Printf("WebSocket write error: %v", err)
			go h.RemoveClient(conn)
		}
	}
}

// BroadcastProgress sends a progress update to all clients.
func (h *WSHub) BroadcastProgress(status, message string, progress float64, bytesSent, totalBytes int64) {
	h.Broadcast(WSMessage{
		Type: "progress",
		Payload: ProgressPayload{
			Status:     status,
			Message:    message,
			Progress:   progress,
			BytesSent:  bytesSent,
			TotalBytes: totalBytes,
		},
	})
}

// BroadcastStatus sends a status update to all clients.
func (h *WSHub) BroadcastStatus(status, message string) {
	h.Broadcast(WSMessage{
		Type: "status",
		Payload: map[string]string{
			"status":  status,
			"message": message,
		},
	})
}

// BroadcastChunk sends a per-chunk CRC result to all clients.
func (h *WSHub) BroadcastChunk(seqNum uint32, crcValid bool) {
	h.Broadcast(WSMessage{
		Type: "chunk",
		Payload: ChunkPayload{
			SeqNum:   seqNum,
			CRCValid: crcValid,
		},
	})
}

// BroadcastMetadata sends a streaming transfer's METADATA frame to all
// clients.
func (h *WSHub) BroadcastMetadata(name string, totalChunks, totalFileSize uint32) {
	h.Broadcast(WSMessage{
		Type: "metadata",
		Payload: MetadataPayload{
			Name:          name,
			TotalChunks:   totalChunks,
			TotalFileSize: totalFileSize,
		},
	})
}

// BroadcastPartial sends a stopped-transfer's best-effort assembly
// state (spec §7 Partial) to all clients.
func (h *WSHub) BroadcastPartial(name string, received, total uint32, missing []uint32) {
	h.Broadcast(WSMessage{
		Type: "partial",
		Payload: PartialPayload{
			Name:     name,
			Received: received,
			Total:    total,
			Missing:  missing,
		},
	})
}

// BroadcastLog sends a log message to all clients.
func (h *WSHub) BroadcastLog(level, message string) {
	h.Broadcast(WSMessage{
		Type: "log",
		Payload: map[string]string{
			"level":   level,
			"message": message,
		},
	})
}
