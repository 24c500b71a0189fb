package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
)

// HTTPExecutor queries monitor inputs over HTTP.
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{
		client: &http.Client{}, // no global timeout, each input sets its own
	}
}

func (e *HTTPExecutor) Query(ctx context.Context, in domain.Input) domain.InputResult {
	start := time.Now()
	result := domain.InputResult{URL: in.URL}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(in.TimeoutSeconds)*time.Second)
	defer cancel()

	var body io.Reader
	if in.Body != nil {
		body = strings.NewReader(*in.Body)
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, in.URL, body)
	if err != nil {
		result.Err = fmt.Errorf("build request: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		result.Err = fmt.Errorf("do request: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection is reused

	result.StatusCode = resp.StatusCode
	result.Duration = time.Since(start)
	return result
}
