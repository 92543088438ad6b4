package handlers

import (
	"net/http"

	"github.com/satindergrewal/dubstudio/internal/stream"
)

type HealthHandler struct {
	monitor *stream.Broadcaster // nil when the monitor is off
	peers   func() int
}

func NewHealthHandler(monitor *stream.Broadcaster, peers func() int) *HealthHandler {
	return &HealthHandler{monitor: monitor, peers: peers}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.monitor != nil {
		resp["monitor"] = h.monitor.Status()
		if h.peers != nil {
			resp["webrtc_peers"] = h.peers()
		}
	}
	jsonResponse(w, resp, http.StatusOK)
}
