package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemPending   = "PROCESSING"
	idemLockTTL   = 10 * time.Second
	idemResultTTL = 24 * time.Hour
)

// IdempotencyStore remembers the outcome of POSTs carrying an Idempotency-Key.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type RedisIdempotency struct {
	Client *redis.Client
}

func (r RedisIdempotency) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, key, idemPending, ttl).Result()
}

func (r RedisIdempotency) Load(ctx context.Context, key string) (string, error) {
	return r.Client.Get(ctx, key).Result()
}

func (r RedisIdempotency) Save(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

func (r RedisIdempotency) Release(ctx context.Context, key string) error {
	return r.Client.Del(ctx, key).Err()
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type recordingWriter struct {
	*responseWriter
	buf bytes.Buffer
}

func (r *recordingWriter) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.responseWriter.Write(b)
}

// idempotencyMiddleware replays the first response for a repeated key, so a
// retried booking never books twice.
func (s *Server) idempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		idemKey := "idempotency:" + r.URL.Path + ":" + key
		ctx := r.Context()

		acquired, err := s.Idem.Reserve(ctx, idemKey, idemLockTTL)
		if err != nil {
			s.logger.Warn("idempotency store unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !acquired {
			val, err := s.Idem.Load(ctx, idemKey)
			if err != nil || val == idemPending {
				writeJSON(w, http.StatusConflict, errorBody{Error: "concurrent request with the same Idempotency-Key"})
				return
			}
			var prev storedResponse
			if err := json.Unmarshal([]byte(val), &prev); err != nil {
				writeJSON(w, http.StatusConflict, errorBody{Error: "request already processed"})
				return
			}
			w.Header().Set("X-Idempotency-Hit", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(prev.Status)
			_, _ = w.Write(prev.Body)
			return
		}

		rec := &recordingWriter{responseWriter: &responseWriter{ResponseWriter: w, status: http.StatusOK}}
		next.ServeHTTP(rec, r)

		// Server errors are not remembered so the client can retry.
		if rec.status >= http.StatusInternalServerError || !json.Valid(rec.buf.Bytes()) {
			_ = s.Idem.Release(context.WithoutCancel(ctx), idemKey)
			return
		}
		b, _ := json.Marshal(storedResponse{Status: rec.status, Body: rec.buf.Bytes()})
		if err := s.Idem.Save(context.WithoutCancel(ctx), idemKey, string(b), idemResultTTL); err != nil {
			s.logger.Warn("idempotency save failed", "error", err)
		}
	})
}
