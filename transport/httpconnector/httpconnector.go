// Package httpconnector implements the hsm.Transport interface over
// HTTP, POSTing raw frame bytes to a vendor connector daemon's
// /connector/api endpoint and returning its response body verbatim.
package httpconnector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vault-edge/go-hsm/pkg/hsm"
)

const defaultPath = "/connector/api"

// statusPath is the connector daemon's health endpoint, returning a
// plain-text body of newline-separated "key=value" lines (e.g.
// "status=OK\nserial=0\nversion=1.0.1").
const statusPath = "/connector/status"

// DefaultBaseURL is the vendor connector daemon's default listen
// address.
const DefaultBaseURL = "http://127.0.0.1:12345"

// Connection is an HTTP-based transport to a connector daemon running
// on the same host or reachable over a private network. It carries no
// TLS configuration of its own — per spec.md's non-goals, TLS is the
// caller's concern if the base URL is https://.
type Connection struct {
	baseURL string
	client  *http.Client
}

// Options configures Open.
type Options struct {
	// BaseURL is the connector's address, e.g. "http://127.0.0.1:12345".
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

// Open builds a Connection. It performs no I/O; the first real
// round-trip is the first SendFrame call.
func Open(opts Options) (*Connection, error) {
	if opts.BaseURL == "" {
		return nil, &hsm.TransportError{Op: "httpconnector.Open", Cause: fmt.Errorf("BaseURL is required")}
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Connection{baseURL: opts.BaseURL, client: client}, nil
}

// SendFrame POSTs frame as the request body and returns the response
// body verbatim as the reply frame.
func (c *Connection) SendFrame(ctx context.Context, frame []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+defaultPath, bytes.NewReader(frame))
	if err != nil {
		return nil, &hsm.TransportError{Op: "httpconnector.SendFrame", Cause: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &hsm.TransportError{Op: "httpconnector.SendFrame", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &hsm.TransportError{Op: "httpconnector.SendFrame", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &hsm.TransportError{Op: "httpconnector.SendFrame", Cause: fmt.Errorf("connector returned status %d: %s", resp.StatusCode, body)}
	}
	return body, nil
}

// Status queries the connector daemon's health endpoint. The daemon
// has no concept of USB vendor/product ID, so those fields are always
// zero; serial number and version come from the response body when
// present.
func (c *Connection) Status(ctx context.Context) (hsm.TransportStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusPath, nil)
	if err != nil {
		return hsm.TransportStatus{}, &hsm.TransportError{Op: "httpconnector.Status", Cause: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return hsm.TransportStatus{}, &hsm.TransportError{Op: "httpconnector.Status", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return hsm.TransportStatus{Connected: false}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return hsm.TransportStatus{}, &hsm.TransportError{Op: "httpconnector.Status", Cause: err}
	}

	status := hsm.TransportStatus{Connected: true}
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "serial":
			status.SerialNumber = strings.TrimSpace(value)
		case "version":
			status.FirmwareVersion = strings.TrimSpace(value)
		}
	}
	return status, nil
}

// Close releases the underlying HTTP client's idle connections.
func (c *Connection) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.client.CloseIdleConnections()
	return nil
}
