package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ollama/replagent/envconfig"
)

// Client talks to a replagent server. Create one with [NewClient] or
// [ClientFromEnvironment].
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(base *url.URL, http *http.Client) *Client {
	return &Client{base: base, http: http}
}

// ClientFromEnvironment creates a client for the server at REPLAGENT_HOST.
func ClientFromEnvironment() (*Client, error) {
	return NewClient(envconfig.Host(), http.DefaultClient), nil
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	apiError := StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if err := json.Unmarshal(body, &apiError); err != nil {
		// use the raw body if it isn't a json error
		apiError.ErrorMessage = string(body)
	}

	return apiError
}

func (c *Client) request(ctx context.Context, method, path string, reqData any) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if reqData != nil {
		bts, err := json.Marshal(reqData)
		if err != nil {
			return nil, nil, err
		}
		reqBody = bytes.NewReader(bts)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reqBody)
	if err != nil {
		return nil, nil, err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return nil, nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, nil, err
	}

	if err := checkError(response, body); err != nil {
		return nil, nil, err
	}

	return response, body, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	_, body, err := c.request(ctx, method, path, reqData)
	if err != nil {
		return err
	}

	if len(body) > 0 && respData != nil {
		if err := json.Unmarshal(body, respData); err != nil {
			return err
		}
	}

	return nil
}

// Parse splits a turn into its events on the server.
func (c *Client) Parse(ctx context.Context, req *ParseRequest) (*ParseResponse, error) {
	var resp ParseResponse
	if err := c.do(ctx, http.MethodPost, "/api/parse", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Flatten renders a session as chat messages on the server.
func (c *Client) Flatten(ctx context.Context, req *FlattenRequest) (*FlattenResponse, error) {
	var resp FlattenResponse
	if err := c.do(ctx, http.MethodPost, "/api/flatten", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns the sessions stored on the server.
func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Create(ctx context.Context, req *CreateSessionRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Get(ctx context.Context, id string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

// Append adds events to the end of a stored session.
func (c *Client) Append(ctx context.Context, id string, req *AppendRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%s/events", url.PathEscape(id)), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resume appends a resume_from event for req.EventID and applies it.
func (c *Client) Resume(ctx context.Context, id string, req *ResumeRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%s/resume", url.PathEscape(id)), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// XML returns the event tree of a stored session.
func (c *Client) XML(ctx context.Context, id string) ([]byte, error) {
	_, body, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%s/xml", url.PathEscape(id)), nil)
	return body, err
}

// Messages returns a stored session flattened with the server's defaults.
func (c *Client) Messages(ctx context.Context, id string) (*FlattenResponse, error) {
	var resp FlattenResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%s/messages", url.PathEscape(id)), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
