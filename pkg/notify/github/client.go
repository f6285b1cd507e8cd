// Package github opens GitHub issues for failed verification tasks.
package github

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v60/github"
)

// Client wraps the GitHub API client with token authentication.
type Client struct {
	inner *gh.Client
	token string
}

// NewClient creates a GitHub API client with the given token.
func NewClient(token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	httpClient := &http.Client{
		Transport: &tokenTransport{token: token},
	}
	client := gh.NewClient(httpClient)
	return &Client{inner: client, token: token}, nil
}

// SetBaseURL points the client at a different API root, e.g. a GitHub
// Enterprise server.
func (c *Client) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse github api url: %w", err)
	}
	c.inner.BaseURL = u
	return nil
}

// tokenTransport adds Bearer token auth to HTTP requests.
type tokenTransport struct {
	token string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}

// parseRepo splits "owner/name".
func parseRepo(repo string) (string, string, error) {
	if repo == "" {
		return "", "", fmt.Errorf("missing repo (expected 'owner/name' format)")
	}
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q (expected 'owner/name')", repo)
	}
	return parts[0], parts[1], nil
}
