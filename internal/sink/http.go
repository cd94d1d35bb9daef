package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSink POSTs the JSON body to a fixed URL.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url. timeout bounds each request
// in addition to the caller's context.
func NewHTTPSink(url string, timeout time.Duration) (*HTTPSink, error) {
	if url == "" {
		return nil, fmt.Errorf("http sink needs a url")
	}
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the sink name
func (s *HTTPSink) Name() string {
	return TypeHTTP
}

// Send posts msg once. Non-2xx responses are failures.
func (s *HTTPSink) Send(ctx context.Context, msg *Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %s", ErrSendFailure, s.url, resp.Status)
	}
	return nil
}

// Close releases idle connections
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
