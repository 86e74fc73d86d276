// Package transport pushes messages to live client connections through the
// connection gateway's callback API.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
)

const serviceName = "connections"

// ErrGone means the connection no longer exists on the gateway.
var ErrGone = errors.New("connection gone")

// Transport delivers a payload to a single connection.
type Transport interface {
	Send(ctx context.Context, connectionID string, payload []byte) error
}

// HTTPTransport implements Transport over the gateway's
// POST {callback}/@connections/{id} API.
type HTTPTransport struct {
	callbackURL string
	client      *http.Client
}

func NewHTTPTransport(callbackURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		callbackURL: strings.TrimRight(callbackURL, "/"),
		client:      &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, connectionID string, payload []byte) error {
	u := fmt.Sprintf("%s/@connections/%s", t.callbackURL, url.PathEscape(connectionID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusGone:
		return fmt.Errorf("send to %s: %w", connectionID, ErrGone)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.Unavailable(serviceName, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("send to %s: status %d", connectionID, resp.StatusCode)
	}
}

// classifyError maps transport-level failures. Timeouts and connection
// failures are Unavailable; caller cancellation passes through.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Unavailable(serviceName, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Unavailable(serviceName, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperr.Unavailable(serviceName, err)
	}
	return fmt.Errorf("calling %s: %w", serviceName, err)
}

var _ Transport = (*HTTPTransport)(nil)
