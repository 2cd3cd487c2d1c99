// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpfetch is the outbound half of §4.G: GET a URL, apply a
// hard deadline around the whole request (not just connect), and
// return the body bytes or a classified error.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// Kind classifies a Fetch failure into one of §7's terminal error kinds.
type Kind int

const (
	KindFetch Kind = iota
	KindTimeout
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindIO:
		return "IO"
	default:
		return "Fetch"
	}
}

// Error wraps a classified fetch failure.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s %s: %v", e.Kind, e.URL, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Client fetches URLs with a per-request deadline. The zero value is
// not usable; construct with New.
type Client struct {
	hc *http.Client
}

// New returns a Client built on go-cleanhttp's pooled, non-shared-state
// transport — the same starting point the teacher reaches for whenever
// it needs an HTTP client of its own.
func New() *Client {
	return &Client{hc: cleanhttp.DefaultPooledClient()}
}

// Get fetches url, aborting if it has not completed by timeout. The
// deadline covers connect, TLS handshake, request write and response
// read — the whole round trip, per §4.G.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindFetch, URL: url, Err: err}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, URL: url, Err: err}
		}
		return nil, &Error{Kind: KindFetch, URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, URL: url, Err: err}
		}
		return nil, &Error{Kind: KindIO, URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindFetch, URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return body, nil
}
