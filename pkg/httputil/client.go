// Package httputil provides the shared HTTP plumbing used by every outbound
// collaborator (classifier, enforcement API, alert webhook): pooled
// transport, timeout-tiered clients, and size-limited body reads.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize bounds response body reads. External services are not
// trusted to return reasonably sized payloads.
const MaxResponseSize = 2 * 1024 * 1024 // 2MB

// sharedTransport pools TCP connections across all outbound calls.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          64,
	MaxIdleConnsPerHost:   8,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

var (
	fastClient *http.Client // webhook/enforcement calls
	slowClient *http.Client // classifier calls
	clientOnce sync.Once
)

func initClients() {
	fastClient = &http.Client{Timeout: 10 * time.Second, Transport: sharedTransport}
	slowClient = &http.Client{Timeout: 60 * time.Second, Transport: sharedTransport}
}

// FastClient returns the shared client for short calls (alert webhooks,
// enforcement rule CRUD). Callers should still pass a request context; the
// client timeout is a backstop, not the primary deadline.
func FastClient() *http.Client {
	clientOnce.Do(initClients)
	return fastClient
}

// SlowClient returns the shared client for model-backed calls that can take
// tens of seconds.
func SlowClient() *http.Client {
	clientOnce.Do(initClients)
	return slowClient
}

// ReadBody reads a response body capped at maxSize (MaxResponseSize when
// maxSize <= 0).
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
