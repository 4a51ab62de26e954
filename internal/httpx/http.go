// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package httpx provides a simpler http.Client abstraction and the fetch
// policy used when talking to package mirrors.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// BasicClient is a simpler http.Client that only requires a Do method.
type BasicClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ BasicClient = http.DefaultClient

// WithUserAgent is a basic HTTP client that adds a User-Agent header.
type WithUserAgent struct {
	BasicClient
	UserAgent string
}

var _ BasicClient = &WithUserAgent{}

// Do adds the User-Agent header and sends the request.
func (c *WithUserAgent) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.UserAgent)
	return c.BasicClient.Do(req)
}

// HTTPError is returned for any response status other than 200 or 304.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Status)
}

// Fetcher issues GETs against repository mirrors.
//
// Policy: connections are reused per host for the lifetime of the Fetcher; a
// remote disconnect before response headers is retried exactly once; a 302 is
// followed exactly once and never chained. Only 200 and 304 are returned to
// the caller, every other status becomes an *HTTPError. The caller owns the
// response body.
type Fetcher struct {
	Client BasicClient
}

// NewFetcher returns a Fetcher backed by a private connection pool so that
// independent builds never share wires.
func NewFetcher() *Fetcher {
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
		// Redirects are handled in Fetch, not by the client, so that
		// exactly one hop is followed.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Fetcher{Client: &WithUserAgent{client, "debstrap"}}
}

// Fetch requests http://<host><path> with the given headers.
func (f *Fetcher) Fetch(ctx context.Context, host, path string, header http.Header) (*http.Response, error) {
	resp, err := f.do(ctx, host, path, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusFound {
		loc := resp.Header.Get("Location")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if loc == "" {
			return nil, &HTTPError{Status: resp.StatusCode}
		}
		u, err := resp.Request.URL.Parse(loc)
		if err != nil {
			return nil, errors.Wrap(err, "parsing redirect location")
		}
		if resp, err = f.do(ctx, u.Host, u.RequestURI(), header); err != nil {
			return nil, err
		}
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotModified:
		return resp, nil
	default:
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode}
	}
}

func (f *Fetcher) do(ctx context.Context, host, path string, header http.Header) (*http.Response, error) {
	send := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+path, nil)
		if err != nil {
			return nil, errors.Wrap(err, "building request")
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return f.Client.Do(req)
	}
	resp, err := send()
	if err != nil && isRemoteDisconnect(err) {
		resp, err = send()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s%s", host, path)
	}
	return resp, nil
}

// isRemoteDisconnect reports whether the server dropped a pooled connection
// before sending response headers.
func isRemoteDisconnect(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
