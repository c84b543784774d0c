package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/campusride/internal/models"
)

// Conn is the part of *websocket.Conn the hub writes through.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one subscribed client, optionally narrowed to a vehicle type.
type Session struct {
	conn   Conn
	filter models.VehicleType
	mu     sync.Mutex
}

const maxWriteWait = 5 * time.Second

// Send writes one event, giving up at ctx's deadline or after maxWriteWait.
func (s *Session) Send(ctx context.Context, ev models.OfferEvent) error {
	deadline := time.Now().Add(maxWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(ev)
}

func (s *Session) wants(ev models.OfferEvent) bool {
	return s.filter == "" || s.filter == models.VehicleAny || s.filter == ev.Offer.VehicleType
}

// Hub streams offer changes to connected clients.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*Session), logger: logger}
}

func (h *Hub) Add(conn Conn, filter models.VehicleType) string {
	id := uuid.NewString()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[id] = &Session{conn: conn, filter: filter}
	return id
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Name() string { return "websocket" }

// Handle writes to interested sessions concurrently and drops the ones that
// fail, so one stalled client costs at most one write deadline.
func (h *Hub) Handle(ctx context.Context, ev models.OfferEvent) error {
	h.mu.RLock()
	targets := make(map[string]*Session, len(h.sessions))
	for id, s := range h.sessions {
		if s.wants(ev) {
			targets[id] = s
		}
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for id, s := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Send(ctx, ev); err != nil {
				h.logger.Info("dropping websocket session", "session_id", id, "error", err)
				h.Remove(id)
			}
		}()
	}
	wg.Wait()
	return nil
}
