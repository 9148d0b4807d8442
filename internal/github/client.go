package github

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/obsidianstack/pagewatch/internal/config"
	"github.com/obsidianstack/pagewatch/pkg/types"
)

// maxErrorBody caps how much of a failed response body ends up in an error.
const maxErrorBody = 512

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("github: GET %s: unexpected status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("github: GET %s: unexpected status %d: %s", e.URL, e.Code, e.Body)
}

// Client lists an organisation's repositories over the REST API.
type Client struct {
	base    string
	org     string
	perPage int
	http    *http.Client
}

// New builds a Client for src. The HTTP client is created once and reused.
func New(src config.SourceConfig) (*Client, error) {
	hc, err := buildHTTPClient(src)
	if err != nil {
		return nil, fmt.Errorf("github %q: build http client: %w", src.Org, err)
	}
	return &Client{
		base:    strings.TrimRight(src.BaseURL, "/"),
		org:     src.Org,
		perPage: src.PerPage,
		http:    hc,
	}, nil
}

// Repos fetches one page of the organisation's repositories. Cancelling ctx
// aborts the request.
func (c *Client) Repos(ctx context.Context, page int) ([]types.Repo, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(c.perPage))
	u := fmt.Sprintf("%s/orgs/%s/repos?%s", c.base, url.PathEscape(c.org), q.Encode())

	var repos []types.Repo
	if err := c.getJSON(ctx, u, &repos); err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []types.Repo{}
	}
	return repos, nil
}

// Owner fetches the organisation's profile.
func (c *Client) Owner(ctx context.Context) (types.Owner, error) {
	var o types.Owner
	err := c.getJSON(ctx, fmt.Sprintf("%s/users/%s", c.base, url.PathEscape(c.org)), &o)
	return o, err
}

// getJSON performs an HTTP GET to u and decodes the JSON body into v.
func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, URL: u, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("github: decode %s: %w", u, err)
	}
	return nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the source's auth and TLS settings.
func buildHTTPClient(src config.SourceConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if src.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(src.Auth.CertFile, src.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if src.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(src.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", src.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	timeout := src.RequestTimeout
	if timeout == 0 {
		timeout = config.DefaultRequestTimeout
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
			auth: src.Auth,
		},
		Timeout: timeout,
	}, nil
}
