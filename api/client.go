package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type Client struct {
	base url.URL
	http *http.Client
}

func NewClient(hosts ...string) *Client {
	host := "127.0.0.1:8686"
	if len(hosts) > 0 {
		host = hosts[0]
	}

	return &Client{
		base: url.URL{Scheme: "http", Host: host},
		http: http.DefaultClient,
	}
}

// NewClientWithHTTP uses hc for every request, which lets tests talk to an
// httptest server.
func NewClientWithHTTP(base *url.URL, hc *http.Client) *Client {
	return &Client{base: *base, http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	var body io.Reader
	if reqData != nil {
		bts, err := json.Marshal(reqData)
		if err != nil {
			return err
		}
		body = bytes.NewReader(bts)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	bts, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode >= http.StatusBadRequest {
		var apiError Error
		if err := json.Unmarshal(bts, &apiError); err != nil || apiError.Message == "" {
			apiError.Message = string(bts)
		}
		apiError.Code = int32(response.StatusCode)
		return apiError
	}

	if respData != nil {
		if err := json.Unmarshal(bts, respData); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Score(ctx context.Context, req *ScoreRequest) (*ScoreResponse, error) {
	var resp ScoreResponse
	if err := c.do(ctx, http.MethodPost, "/api/score", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Sample(ctx context.Context, req *SampleRequest) (*SampleResponse, error) {
	var resp SampleResponse
	if err := c.do(ctx, http.MethodPost, "/api/sample", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Show(ctx context.Context) (*ShowResponse, error) {
	var resp ShowResponse
	if err := c.do(ctx, http.MethodGet, "/api/show", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil)
}
