package client

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
)

// RequestSpec fully describes one logical call. The session copies it on
// enqueue, so callers may reuse their maps afterwards.
type RequestSpec struct {
	Method string
	URL    string // absolute
	Params url.Values

	// Headers override the session defaults; an empty value removes one.
	Headers map[string]string

	// JSON is marshalled as the request body. Body is sent verbatim when JSON is nil.
	JSON any
	Body []byte

	// RaiseOn replaces the error message for specific failing statuses.
	RaiseOn map[int]string

	// CannotRaise returns failing responses instead of a GraphError.
	CannotRaise bool

	// ForceDirect sends immediately even while batching.
	ForceDirect bool
}

func (s RequestSpec) clone() RequestSpec {
	out := s
	if s.Params != nil {
		out.Params = make(url.Values, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = append([]string(nil), v...)
		}
	}
	out.Headers = maps.Clone(s.Headers)
	out.RaiseOn = maps.Clone(s.RaiseOn)
	if s.Body != nil {
		out.Body = append([]byte(nil), s.Body...)
	}
	return out
}

// encodeBody returns the wire body and whether it is JSON.
func (s RequestSpec) encodeBody() ([]byte, bool, error) {
	if s.JSON != nil {
		data, err := json.Marshal(s.JSON)
		if err != nil {
			return nil, false, fmt.Errorf("marshal request body: %w", err)
		}
		return data, true, nil
	}
	return s.Body, false, nil
}

// fullURL returns URL with Params merged into its query string.
func (s RequestSpec) fullURL() (string, error) {
	if len(s.Params) == 0 {
		return s.URL, nil
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", s.URL, err)
	}
	q := u.Query()
	for k, vs := range s.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Option customizes the spec built by Get, GetItem and GetNextItem.
type Option func(*RequestSpec)

// WithParams sets query parameters.
func WithParams(params url.Values) Option {
	return func(s *RequestSpec) { s.Params = params }
}

// WithHeaders adds request headers.
func WithHeaders(headers map[string]string) Option {
	return func(s *RequestSpec) {
		if s.Headers == nil {
			s.Headers = make(map[string]string, len(headers))
		}
		maps.Copy(s.Headers, headers)
	}
}

// WithCannotRaise returns failing responses instead of errors.
func WithCannotRaise() Option {
	return func(s *RequestSpec) { s.CannotRaise = true }
}

// WithRaiseOn overrides error messages for the given statuses.
func WithRaiseOn(raiseOn map[int]string) Option {
	return func(s *RequestSpec) { s.RaiseOn = raiseOn }
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response from %s: %w", r.URL, err)
	}
	return nil
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
