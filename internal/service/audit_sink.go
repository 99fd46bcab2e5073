package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tshla-medical/phicore/internal/config"
	"github.com/tshla-medical/phicore/internal/domain/audit"
)

// HTTPSink delivers audit batches to the external audit endpoint as
// POST {"logs": [...]} with a bearer token. Any non-2xx response is a flush
// failure; the service re-queues the batch.
type HTTPSink struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPSink(cfg config.AuditConfig) *HTTPSink {
	return &HTTPSink{
		url:    cfg.SinkURL,
		token:  cfg.SinkToken,
		client: &http.Client{Timeout: cfg.SinkTimeout},
	}
}

type sinkPayload struct {
	Logs []*audit.Entry `json:"logs"`
}

func (s *HTTPSink) Send(ctx context.Context, entries []*audit.Entry) error {
	body, err := json.Marshal(sinkPayload{Logs: entries})
	if err != nil {
		return fmt.Errorf("encoding audit batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending audit batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("audit sink rejected batch: status %d", resp.StatusCode)
	}
	return nil
}
