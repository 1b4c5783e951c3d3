package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// DefaultClassifierTimeout bounds one classifier request.
const DefaultClassifierTimeout = 10 * time.Second

// maxClassifierRetries is the number of extra attempts after a transient failure.
const maxClassifierRetries = 2

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Flagged bool `json:"flagged"`
}

// HTTPClassifier asks a remote service whether text is abusive. The service
// receives {"text": ...} and answers {"flagged": bool}. Transport errors and
// 5xx answers are retried with exponential backoff; 4xx answers are not.
type HTTPClassifier struct {
	url     string
	client  *http.Client
	retries uint64
}

func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	return &HTTPClassifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		retries: maxClassifierRetries,
	}
}

func (c *HTTPClassifier) Check(ctx context.Context, text string) (bool, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return true, fmt.Errorf("encode classifier request: %w", err)
	}

	var result classifyResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build classifier request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("call classifier: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("classifier returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("classifier returned %s", resp.Status))
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&result); err != nil {
			return backoff.Permanent(fmt.Errorf("decode classifier response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx)); err != nil {
		return true, err
	}
	return result.Flagged, nil
}
