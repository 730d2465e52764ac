// Package batch builds Graph JSON batch envelopes and validates their results.
package batch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Request is one buffered logical request, as handed over by the session.
type Request struct {
	Method  string
	URL     string // absolute
	Headers map[string]string
	Body    json.RawMessage
}

// SubRequest is one entry of the envelope's "requests" array.
type SubRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Envelope is the body POSTed to the $batch endpoint.
type Envelope struct {
	Requests []SubRequest `json:"requests"`
}

// SubResponse is one entry of the "responses" array returned by $batch.
type SubResponse struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Result is the decoded $batch response. Entries may come back in any order.
type Result struct {
	Responses []SubResponse `json:"responses"`
}

// BuildEnvelope converts buffered requests into an envelope. IDs are "1".."N"
// in buffer order and URLs are made relative to apiRoot.
func BuildEnvelope(apiRoot string, requests []Request) Envelope {
	env := Envelope{Requests: make([]SubRequest, 0, len(requests))}
	for i, req := range requests {
		sub := SubRequest{
			ID:     strconv.Itoa(i + 1),
			Method: req.Method,
			URL:    RelativeURL(apiRoot, req.URL),
		}
		if len(req.Headers) > 0 {
			sub.Headers = req.Headers
		}
		if len(req.Body) > 0 {
			sub.Body = req.Body
		}
		env.Requests = append(env.Requests, sub)
	}
	return env
}

// RelativeURL strips apiRoot from fullURL. URLs outside apiRoot are returned as is.
func RelativeURL(apiRoot, fullURL string) string {
	root := strings.TrimSuffix(apiRoot, "/")
	if root != "" && strings.HasPrefix(fullURL, root) {
		return strings.TrimPrefix(fullURL, root)
	}
	return fullURL
}

// Lookup returns the sub-response with the given id.
func (r *Result) Lookup(id string) (SubResponse, bool) {
	if r == nil {
		return SubResponse{}, false
	}
	for _, resp := range r.Responses {
		if resp.ID == id {
			return resp, true
		}
	}
	return SubResponse{}, false
}

// Failed returns every sub-response with status >= 400, in response order.
func (r *Result) Failed() []SubResponse {
	if r == nil {
		return nil
	}
	var failed []SubResponse
	for _, resp := range r.Responses {
		if resp.Status >= 400 {
			failed = append(failed, resp)
		}
	}
	return failed
}

// Validate fails on the first sub-response with status >= 400. One failing
// sub-request invalidates the whole batch.
func (r *Result) Validate() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	first := failed[0]
	return &SubRequestError{
		ID:     first.ID,
		Status: first.Status,
		Body:   first.Body,
		Result: r,
	}
}

// SubRequestError reports the sub-request that failed a flush. Result holds the
// full batch result for callers that want per-id outcomes.
type SubRequestError struct {
	ID     string
	Status int
	Body   json.RawMessage
	Result *Result
}

// Error implements the error interface.
func (e *SubRequestError) Error() string {
	return fmt.Sprintf("batch id %s failed with error %d. %s", e.ID, e.Status, string(e.Body))
}
