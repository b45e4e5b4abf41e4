package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jeongseonghan/scsync/internal/pipeline"
)

// Controller is the part of a running pipeline the API exposes.
type Controller interface {
	ID() uuid.UUID
	Threshold() float64
	SetThreshold(float64) error
	Stats() pipeline.Stats
}

// SyncInfo describes the synchronizer configuration for status replies.
type SyncInfo struct {
	FFTLen          int    `json:"fft_len"`
	CPLen           int    `json:"cp_len"`
	UseEvenCarriers bool   `json:"use_even_carriers"`
	Delay           int    `json:"delay"`
	Source          string `json:"source"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	RunID         string          `json:"run_id"`
	Threshold     float64         `json:"threshold"`
	Sync          SyncInfo        `json:"sync"`
	Stats         pipeline.Stats  `json:"stats"`
	Clients       int             `json:"clients"`
	LastDetection *pipeline.Event `json:"last_detection,omitempty"`
}

type thresholdBody struct {
	Threshold *float64 `json:"threshold"`
}

// Handlers holds the HTTP API handlers. It also observes detections and
// forwards them to WebSocket clients.
type Handlers struct {
	ctrl   Controller
	info   SyncInfo
	wsHub  *WSHub
	logger *log.Logger

	mu   sync.Mutex
	last *pipeline.Event
}

// NewHandlers creates new API handlers.
func NewHandlers(ctrl Controller, info SyncInfo, logger *log.Logger) *Handlers {
	return &Handlers{
		ctrl:   ctrl,
		info:   info,
		wsHub:  NewWSHub(logger),
		logger: logger,
	}
}

// Hub returns the WebSocket hub.
func (h *Handlers) Hub() *WSHub { return h.wsHub }

// OnDetection implements pipeline.Observer.
func (h *Handlers) OnDetection(e pipeline.Event) {
	h.mu.Lock()
	h.last = &e
	h.mu.Unlock()

	h.wsHub.Broadcast(WSMessage{Type: "detection", Payload: e})
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "err", err)
		return
	}

	h.wsHub.AddClient(conn)

	// Clients only listen; reading detects disconnects.
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// HandleThreshold reads (GET) or changes (POST) the detection threshold.
func (h *Handlers) HandleThreshold(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var body thresholdBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("parse request: %v", err))
			return
		}
		if body.Threshold == nil {
			writeError(w, http.StatusBadRequest, "missing threshold")
			return
		}
		if err := h.ctrl.SetThreshold(*body.Threshold); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.wsHub.Broadcast(WSMessage{Type: "threshold", Payload: map[string]float64{"threshold": *body.Threshold}})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, map[string]float64{"threshold": h.ctrl.Threshold()})
}

// HandleStatus returns the run status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	h.mu.Lock()
	last := h.last
	h.mu.Unlock()

	writeJSON(w, StatusResponse{
		RunID:         h.ctrl.ID().String(),
		Threshold:     h.ctrl.Threshold(),
		Sync:          h.info,
		Stats:         h.ctrl.Stats(),
		Clients:       h.wsHub.Count(),
		LastDetection: last,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
