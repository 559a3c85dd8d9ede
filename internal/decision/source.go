package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrSource marks transport-level failures of the decision source, as
// opposed to payload problems. Callers classify skips on it.
var ErrSource = errors.New("decision source unavailable")

// Request carries everything the source sees for one instrument.
// Snapshot and Portfolio are opaque to this package; the orchestrator
// marshals them.
type Request struct {
	Symbol    string          `json:"symbol"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Portfolio json.RawMessage `json:"portfolio"`
}

// Source is the opaque decision producer. Implementations must respect
// ctx deadlines; the orchestrator treats any error as NoDecision for
// that instrument only.
type Source interface {
	Generate(ctx context.Context, req Request) (Decision, error)
}

// HTTPSource posts the request JSON to a fixed endpoint and parses the
// response body as a decision payload.
type HTTPSource struct {
	Endpoint string
	SourceID string
	Client   *http.Client
}

func NewHTTPSource(endpoint, sourceID string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		Endpoint: endpoint,
		SourceID: sourceID,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Generate(ctx context.Context, req Request) (Decision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal decision request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrSource, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("%w: status %d", ErrSource, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Decision{}, fmt.Errorf("read decision response: %w", err)
	}
	prov := Provenance{
		SourceID:  s.SourceID,
		Latency:   time.Since(started),
		Generated: time.Now().UTC(),
	}
	return Parse(string(raw), req.Symbol, prov)
}
