// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package httpxtest provides a scripted mock for httpx.BasicClient.
package httpxtest

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type Call struct {
	Method   string
	URL      string
	Response *http.Response
	Error    error
}

// MockClient replays a fixed sequence of calls. Responses with a nil Request
// get one synthesized from the incoming request so redirect resolution works.
type MockClient struct {
	Calls             []Call
	URLValidator      func(expected, actual string)
	SkipURLValidation bool
	callCount         int
}

func (m *MockClient) Do(req *http.Request) (*http.Response, error) {
	if m.callCount >= len(m.Calls) {
		panic("unexpected request: " + req.URL.String())
	}
	call := m.Calls[m.callCount]
	m.callCount++

	if !m.SkipURLValidation && (m.URLValidator == nil) {
		panic("URL validation requested but not configured")
	} else if m.SkipURLValidation && (m.URLValidator != nil) {
		panic("URL validation disabled but configured")
	}
	if m.URLValidator != nil {
		if call.Method != "" {
			m.URLValidator(call.Method+" "+call.URL, req.Method+" "+req.URL.String())
		} else {
			m.URLValidator(call.URL, req.URL.String())
		}
	}

	if call.Response != nil {
		if call.Response.Request == nil {
			call.Response.Request = req
		}
		if call.Response.Body == nil {
			call.Response.Body = Body("")
		}
		if call.Response.Header == nil {
			call.Response.Header = http.Header{}
		}
	}
	return call.Response, call.Error
}

func (m *MockClient) CallCount() int {
	return m.callCount
}

func NewURLValidator(t *testing.T) func(string, string) {
	return func(expected, actual string) {
		t.Helper()
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Fatalf("URL mismatch (-want +got):\n%s", diff)
		}
	}
}

func Body(b string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(b)))
}

// Request is a convenience for constructing the Request field of a canned
// response when the response is built before any call is made.
func Request(rawurl string) *http.Request {
	u, err := url.Parse(rawurl)
	if err != nil {
		panic(err)
	}
	return &http.Request{Method: http.MethodGet, URL: u}
}
