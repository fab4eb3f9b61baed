// Package catalog provides implementations of core.Catalog: an HTTP client
// for the catalog service, a static snapshot for offline use and tests, and
// a caching decorator.
package catalog

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

//go:embed schema/*.json
var schemaFS embed.FS

const schemaBase = "https://catalog.schema/"

// DefaultTimeout bounds one catalog request.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// Client talks to the catalog service over HTTP:
//
//	GET {base}/search?q=<text>&limit=<n>  -> {"results": [candidate...]}
//	GET {base}/titles/{id}                -> candidate, 404 when absent
//
// Every response body is validated against an embedded JSON Schema before
// it is decoded.
type Client struct {
	base       *url.URL
	http       *http.Client
	searchSpec *jsonschema.Schema
	titleSpec  *jsonschema.Schema
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid catalog url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	search, title, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Client{
		base:       base,
		http:       &http.Client{Timeout: timeout},
		searchSpec: search,
		titleSpec:  title,
	}, nil
}

func compileSchemas() (search, title *jsonschema.Schema, err error) {
	compiler := jsonschema.NewCompiler()
	for _, name := range []string{"candidate.json", "search.json"} {
		b, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return nil, nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
			return nil, nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	if search, err = compiler.Compile(schemaBase + "search.json"); err != nil {
		return nil, nil, fmt.Errorf("compile search schema: %w", err)
	}
	if title, err = compiler.Compile(schemaBase + "candidate.json"); err != nil {
		return nil, nil, fmt.Errorf("compile title schema: %w", err)
	}
	return search, title, nil
}

// Search queries the catalog by free text.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]core.Candidate, error) {
	u := c.endpoint("search")
	q := u.Query()
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	var resp struct {
		Results []core.Candidate `json:"results"`
	}
	if err := c.get(ctx, u, c.searchSpec, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Get fetches one title by native id or external reference ("igdb:1234").
func (c *Client) Get(ctx context.Context, id string) (*core.Candidate, error) {
	var cand core.Candidate
	if err := c.get(ctx, c.endpoint("titles", id), c.titleSpec, &cand); err != nil {
		return nil, err
	}
	return &cand, nil
}

func (c *Client) endpoint(parts ...string) *url.URL {
	u := *c.base
	for _, p := range parts {
		u.Path += "/" + url.PathEscape(p)
	}
	u.RawPath = ""
	return &u
}

func (c *Client) get(ctx context.Context, u *url.URL, schema *jsonschema.Schema, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read catalog response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("catalog response does not match schema: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}
