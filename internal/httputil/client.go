// Package httputil holds the HTTP plumbing shared by the inference client
// and the results server.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"
)

// Doer sends HTTP requests. *http.Client satisfies it; tests use StubClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient returns an *http.Client with the given overall request timeout.
// A non-positive timeout means no timeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 0
	}
	return &http.Client{Timeout: timeout}
}

// StubResponse is a canned reply served by StubClient.
type StubResponse struct {
	StatusCode int
	Body       []byte
	Err        error
}

// StubClient is a Doer that replays queued responses and records what it was
// sent. Once the queue is exhausted the last response repeats.
type StubClient struct {
	mu        sync.Mutex
	responses []StubResponse
	next      int

	// Bodies holds the request bodies in arrival order.
	Bodies [][]byte
	// Requests holds the requests in arrival order; their bodies are drained.
	Requests []*http.Request
}

// Reply queues a response with the given status and body.
func (s *StubClient) Reply(status int, body string) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, StubResponse{StatusCode: status, Body: []byte(body)})
	return s
}

// Fail queues a transport error.
func (s *StubClient) Fail(err error) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, StubResponse{Err: err})
	return s
}

// Do implements Doer.
func (s *StubClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = b
		req.Body.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	s.Bodies = append(s.Bodies, body)

	if len(s.responses) == 0 {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header), Request: req}, nil
	}
	r := s.responses[s.next]
	if s.next < len(s.responses)-1 {
		s.next++
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &http.Response{
		StatusCode: r.StatusCode,
		Body:       io.NopCloser(bytes.NewReader(r.Body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

// Count returns the number of requests received.
func (s *StubClient) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
