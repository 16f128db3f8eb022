// Package transport sends a stage's request to a remote source. A send is
// asynchronous and reports back exactly once.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

const DefaultTimeout = 5 * time.Second

type Request struct {
	Method  string
	URL     string
	Body    []byte
	Timeout time.Duration
}

// Reply is what came back. Status is 0 when no response was received.
type Reply struct {
	Body   []byte
	Status int
	Err    error
}

type Transport interface {
	// Send starts the request and returns. done is called exactly once, from
	// any goroutine.
	Send(ctx context.Context, req Request, done func(Reply))
}

// Func adapts a plain function to Transport. The function is run on its own
// goroutine.
type Func func(ctx context.Context, req Request) Reply

func (f Func) Send(ctx context.Context, req Request, done func(Reply)) {
	go func() {
		done(f(ctx, req))
	}()
}

// HTTP sends requests with an *http.Client.
type HTTP struct {
	Client *http.Client
}

var _ Transport = (*HTTP)(nil)

func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{Client: client}
}

func (h *HTTP) Send(ctx context.Context, req Request, done func(Reply)) {
	go func() {
		done(h.do(ctx, req))
	}()
}

func (h *HTTP) do(ctx context.Context, req Request) Reply {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Reply{Err: err}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Reply{Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{Status: resp.StatusCode, Err: err}
	}
	return Reply{Body: b, Status: resp.StatusCode}
}
