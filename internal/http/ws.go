package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/campusride/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS subscribes a client to offer changes, optionally for one vehicle type.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "live updates disabled"})
		return
	}
	vt, ok := models.ParseVehicleType(r.URL.Query().Get("vehicle_type"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown vehicle_type"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	id := s.Hub.Add(conn, vt)
	s.logger.Debug("websocket subscribed", "session_id", id, "vehicle_type", vt)

	// Clients only listen; reading detects the close.
	go func() {
		defer s.Hub.Remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
