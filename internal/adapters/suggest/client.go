// Package suggest talks to the reply-suggestion service over HTTP.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/app/assist"
	"github.com/valyala/fasthttp"
)

const defaultTimeout = 5 * time.Second

type request struct {
	Text string `json:"text"`
}

type response struct {
	Suggestions []string `json:"suggestions"`
}

// Client posts {"text": ...} to URL and expects {"suggestions": [...]}.
type Client struct {
	URL    string
	client *fasthttp.Client
}

var _ assist.Suggester = (*Client)(nil)

func New(url string) *Client {
	return &Client{
		URL: url,
		client: &fasthttp.Client{
			Name:                "huddle",
			MaxIdleConnDuration: 30 * time.Second,
		},
	}
}

func (c *Client) Suggest(ctx context.Context, text string) ([]string, error) {
	body, err := json.Marshal(request{Text: text})
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, defaultTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("suggest request: %w", err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("suggest status %d", code)
	}

	var out response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("suggest body: %w", err)
	}
	return out.Suggestions, nil
}
