package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a side-channel over HTTP.
type Client struct {
	BaseURL string
	// Origin is sent along so relative URLs resolve against the page.
	Origin string
	HTTP   *http.Client
}

// NewClient returns a client for the side-channel at baseURL.
func NewClient(baseURL, origin string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Origin:  origin,
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Resolve posts urls to the side-channel. Every requested URL has an entry
// in the returned Response.
func (c *Client) Resolve(ctx context.Context, urls []string) (Response, error) {
	urls = Dedupe(urls)
	body, err := json.Marshal(Message{Type: TypeFetch, URLs: urls, Origin: c.Origin})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var reply Reply
	decodeErr := json.Unmarshal(data, &reply)
	switch {
	case resp.StatusCode == http.StatusGone:
		return nil, ErrContextInvalidated
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrBusy
	case resp.StatusCode != http.StatusOK:
		msg := reply.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, msg)
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: malformed reply: %v", ErrUnavailable, decodeErr)
	case reply.Results == nil:
		return nil, fmt.Errorf("%w: malformed reply: no results", ErrUnavailable)
	}
	return Complete(reply.Results, urls), nil
}

// Ping checks the side-channel is alive.
func (c *Client) Ping(ctx context.Context) (Pong, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/ping", nil)
	if err != nil {
		return Pong{}, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Pong{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusGone {
		return Pong{}, ErrContextInvalidated
	}
	if resp.StatusCode != http.StatusOK {
		return Pong{}, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}
	var p Pong
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Pong{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p, nil
}
