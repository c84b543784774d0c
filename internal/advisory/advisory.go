package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	FallbackRecommendation = "CampusRide: The fastest way across campus."
	FallbackReason         = "Manual review required."
)

// Recommender supplies marketing copy. Booking never waits on it.
type Recommender interface {
	Recommend(ctx context.Context, userContext string) string
}

// Verdict is advisory only; a human or policy engine makes the final call.
type Verdict struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type Document struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mimeType"`
}

type Verifier interface {
	Verify(ctx context.Context, doc Document) Verdict
}

// Static answers with the fallbacks. Used when no endpoint is configured.
type Static struct{}

func (Static) Recommend(context.Context, string) string { return FallbackRecommendation }

func (Static) Verify(context.Context, Document) Verdict {
	return Verdict{Approved: false, Confidence: 0, Reason: FallbackReason}
}

// HTTPAdvisor calls a text/vision model gateway over JSON.
type HTTPAdvisor struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPAdvisor(endpoint string) *HTTPAdvisor {
	return &HTTPAdvisor{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 3 * time.Second}}
}

func (a *HTTPAdvisor) Recommend(ctx context.Context, userContext string) string {
	var out struct {
		Text string `json:"text"`
	}
	if err := a.post(ctx, "/recommend", map[string]string{"context": userContext}, &out); err != nil || strings.TrimSpace(out.Text) == "" {
		return FallbackRecommendation
	}
	return out.Text
}

func (a *HTTPAdvisor) Verify(ctx context.Context, doc Document) Verdict {
	if doc.MimeType == "" {
		doc.MimeType = "image/jpeg"
	}
	var out struct {
		IsValid    bool    `json:"isValid"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := a.post(ctx, "/verify", doc, &out); err != nil {
		return Static{}.Verify(ctx, doc)
	}
	return Verdict{Approved: out.IsValid, Confidence: out.Confidence, Reason: out.Reason}
}

func (a *HTTPAdvisor) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("advisory %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
