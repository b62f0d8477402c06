package congress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/metrics"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// collectionKeys are the response keys that hold a list of items, in the
// order they are tried.
var collectionKeys = []string{
	"bills",
	"members",
	"amendments",
	"committees",
	"nominations",
	"treaties",
	"reports",
	"hearings",
	"Results.Issues",
	"items",
}

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// Page is one page of a collection response. Records holds every element
// of the collection array, objects or not.
type Page struct {
	Records []value.Value
	Next    string // absolute URL of the next page, empty on the last page
}

// Client talks to the Congress.gov v3 API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	pageSize   int
	httpClient *http.Client
}

// NewClient creates a new Congress.gov client
func NewClient(cfg config.APIConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	return &Client{
		baseURL:  base,
		apiKey:   cfg.Key,
		pageSize: cfg.PageSize,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// GetCollection fetches one page of a collection endpoint. An empty
// pageToken requests the first page; otherwise it is the Next URL of the
// previous page.
func (c *Client) GetCollection(ctx context.Context, path string, params url.Values, pageToken string) (*Page, error) {
	var target *url.URL
	if pageToken == "" {
		target = c.resolve(path)
		q := url.Values{}
		for k, vs := range params {
			q[k] = append([]string(nil), vs...)
		}
		q.Set("offset", "0")
		if c.pageSize > 0 {
			q.Set("limit", strconv.Itoa(c.pageSize))
		}
		target.RawQuery = q.Encode()
	} else {
		next, err := url.Parse(pageToken)
		if err != nil {
			return nil, fmt.Errorf("invalid page token: %w", err)
		}
		// Never send the API key to a host other than the configured one.
		if next.Host != "" && next.Host != c.baseURL.Host {
			return nil, fmt.Errorf("page token points at unexpected host %q", next.Host)
		}
		target = c.baseURL.ResolveReference(next)
	}

	body, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}

	items, err := extractItems(body)
	if err != nil {
		return nil, &DecodeError{URL: redact(target), Err: err}
	}
	page := &Page{Records: items}
	if next, ok := body.LookupString("pagination.next"); ok {
		page.Next = next
	}
	return page, nil
}

// GetDetail fetches a single resource and returns the object stored under
// key ("bill", "member"). The whole body is returned when key is absent.
func (c *Client) GetDetail(ctx context.Context, path, key string) (value.Object, error) {
	target := c.resolve(path)
	body, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if obj, ok := body.LookupObject(key); ok {
			return obj, nil
		}
	}
	return body, nil
}

func (c *Client) resolve(path string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return &u
}

// get performs a single request attempt. Retries belong to the caller.
func (c *Client) get(ctx context.Context, target *url.URL) (value.Object, error) {
	q := target.Query()
	q.Set("format", "json")
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()
	metrics.APIRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusTooManyRequests {
			metrics.RateLimited.Inc()
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	body, err := value.ParseObject(data)
	if err != nil {
		return nil, &DecodeError{URL: redact(target), Err: err}
	}
	return body, nil
}

// extractItems returns the elements of the first recognised collection
// key. A body without any of them is not a collection response.
func extractItems(body value.Object) ([]value.Value, error) {
	for _, key := range collectionKeys {
		if arr, ok := body.LookupArray(key); ok {
			return []value.Value(arr), nil
		}
	}
	return nil, fmt.Errorf("no collection in response (keys: %s)", strings.Join(body.Keys(), ", "))
}

func redact(u *url.URL) string {
	clean := *u
	q := clean.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		clean.RawQuery = q.Encode()
	}
	return clean.String()
}
