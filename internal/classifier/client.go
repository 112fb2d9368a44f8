package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ecowatch/internal/model"
)

var (
	// ErrUnavailable covers transport failures and non-success statuses.
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrInvalidResponse covers a reachable service returning a body
	// without a results payload.
	ErrInvalidResponse = errors.New("classifier response invalid")
)

// Matcher is the client for the remote text-matching service. It performs a
// single call per submission; retry policy, if any, belongs to the caller.
type Matcher interface {
	Classify(ctx context.Context, sub model.Submission) (model.ConcernScoreMap, error)
}

type request struct {
	InputPhrase string            `json:"input_phrase"`
	Matchers    map[string]string `json:"matchers"`
}

type response struct {
	Results map[string]float64 `json:"results"`
}

type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Classify sends the submission's free text to the matching service and
// returns the per-category scores. The input phrase is notes then type,
// space-separated; the order is fixed so identical submissions produce
// identical classifier input.
func (c *Client) Classify(ctx context.Context, sub model.Submission) (model.ConcernScoreMap, error) {
	payload := request{
		InputPhrase: sub.Notes + " " + sub.Type,
		Matchers:    model.MatcherLabels(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode classifier request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if decoded.Results == nil {
		return nil, fmt.Errorf("%w: missing results", ErrInvalidResponse)
	}

	scores := make(model.ConcernScoreMap, len(decoded.Results))
	for key, score := range decoded.Results {
		scores[model.ConcernCategory(key)] = score
	}
	return scores, nil
}
