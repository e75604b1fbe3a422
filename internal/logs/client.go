package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"avsync/internal/httpapi"
)

// ErrAPIUnavailable reports that no server answered at the configured bind.
var ErrAPIUnavailable = errors.New("log API unavailable")

// StreamClient fetches log events from a running server.
type StreamClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

// StreamQuery mirrors the /api/logs query parameters.
type StreamQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	Component string
	Reference int
}

func (q StreamQuery) encode() string {
	values := url.Values{}
	set := func(key string, ok bool, value string) {
		if ok {
			values.Set(key, value)
		}
	}
	set("since", q.Since > 0, strconv.FormatUint(q.Since, 10))
	set("limit", q.Limit > 0, strconv.Itoa(q.Limit))
	set("follow", q.Follow, "1")
	set("tail", q.Tail, "1")
	set("component", strings.TrimSpace(q.Component) != "", strings.TrimSpace(q.Component))
	set("reference", q.Reference > 0, strconv.Itoa(q.Reference))
	return values.Encode()
}

// NewStreamClient targets bind (host:port or URL). An empty bind returns nil.
// Wildcard listen addresses are dialed on loopback.
func NewStreamClient(bind, token string) (*StreamClient, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	if host, port, splitErr := net.SplitHostPort(base.Host); splitErr == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			base.Host = net.JoinHostPort("127.0.0.1", port)
		}
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &StreamClient{
		base:  base,
		token: strings.TrimSpace(token),
		// follow mode blocks until the caller cancels
		http: &http.Client{},
	}, nil
}

// Fetch returns the events matching q.
func (c *StreamClient) Fetch(ctx context.Context, q StreamQuery) (httpapi.LogStreamResponse, error) {
	var payload httpapi.LogStreamResponse
	if c == nil {
		return payload, ErrAPIUnavailable
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: "/api/logs", RawQuery: q.encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return payload, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return payload, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return payload, errors.New("api logs rejected the request; check server.api_token")
	case resp.StatusCode >= 400:
		return payload, fmt.Errorf("api logs returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode log events: %w", err)
	}
	return payload, nil
}

// IsAPIUnavailable reports whether err means nothing is listening.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAPIUnavailable) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
