// Package origin performs a synchronous fetch of a path from the correct
// origin content server.
package origin

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnreachable wraps any failure to retrieve a path from an origin
// server (connection failure, non-2xx status, timeout). It carries no
// retry semantics: a fetch either succeeds or fails once.
var ErrUnreachable = errors.New("origin unreachable")

// Client fetches paths from origin content servers, selecting the base URL
// by keyword match against titlePrefixMap.
type Client struct {
	baseURL        string
	titlePrefixMap map[string]string
	http           *http.Client
}

// NewClient builds an origin client. baseURL is the content server root;
// titlePrefixMap maps a title token to a sub-path appended after baseURL,
// letting different titles live under different prefixes on that server.
func NewClient(baseURL string, titlePrefixMap map[string]string) *Client {
	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		titlePrefixMap: titlePrefixMap,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// resolveURL picks the origin sub-path of the first titlePrefixMap token
// found anywhere in path, then appends path. Map iteration order decides
// which entry wins when several tokens match.
func (c *Client) resolveURL(path string) string {
	prefix := ""
	for token, p := range c.titlePrefixMap {
		if strings.Contains(path, token) {
			prefix = p
			break
		}
	}
	return c.baseURL + prefix + "/" + strings.TrimPrefix(path, "/")
}

// Fetch performs a plain HTTP GET for path against the resolved origin
// base and returns the body and response headers. Failure is non-retriable
// and wrapped in ErrUnreachable; callers map it to an appropriate HTTP
// status for their response.
func (c *Client) Fetch(path string) ([]byte, http.Header, error) {
	url := c.resolveURL(path)
	resp, err := c.http.Get(url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("%w: %s: status %d", ErrUnreachable, url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: read body: %v", ErrUnreachable, url, err)
	}
	return body, resp.Header, nil
}
