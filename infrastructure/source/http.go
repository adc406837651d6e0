// Package source provides document sources that fetch page-range chunks.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/infrastructure/api/v1/dto"
)

// RangeUnit is the unit of the Range and Content-Range headers used for
// page-range requests.
const RangeUnit = "pages"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 60 * time.Second

// ErrNotFound is returned when the server has no such document.
var ErrNotFound = errors.New("document not found")

// StatusError is returned for an unexpected HTTP status. A 404 matches
// ErrNotFound.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusNotFound {
		return fmt.Sprintf("%s: %s", ErrNotFound, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns ErrNotFound for a 404.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Temporary reports whether retrying may succeed. Fetch retries stop at
// once when it is false.
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RangeHeader formats a page-range request header value.
func RangeHeader(start, end int) string {
	return fmt.Sprintf("%s=%d-%d", RangeUnit, start, end)
}

// ParseRangeHeader parses "pages=a-b".
func ParseRangeHeader(v string) (start, end int, err error) {
	unit, bounds, ok := strings.Cut(strings.TrimSpace(v), "=")
	if !ok || unit != RangeUnit {
		return 0, 0, fmt.Errorf("range %q: unit must be %s", v, RangeUnit)
	}
	a, b, ok := strings.Cut(bounds, "-")
	if !ok {
		return 0, 0, fmt.Errorf("range %q: expected start-end", v)
	}
	if start, err = strconv.Atoi(strings.TrimSpace(a)); err != nil {
		return 0, 0, fmt.Errorf("range %q: %w", v, err)
	}
	if end, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
		return 0, 0, fmt.Errorf("range %q: %w", v, err)
	}
	return start, end, nil
}

// ContentRangeHeader formats "pages a-b/total".
func ContentRangeHeader(start, end, total int) string {
	return fmt.Sprintf("%s %d-%d/%d", RangeUnit, start, end, total)
}

// HTTP fetches documents from a folio document server.
type HTTP struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTP source.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// NewHTTP creates a source for the server at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PageCount returns the number of pages of document id.
func (h *HTTP) PageCount(ctx context.Context, id string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.documentURL(id), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get document %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, id, http.StatusOK); err != nil {
		return 0, err
	}

	var doc dto.DocumentResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc.Data.Attributes.PageCount, nil
}

// FetchPageRange requests pages [start,end] of document id.
func (h *HTTP) FetchPageRange(ctx context.Context, id string, start, end int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.documentURL(id)+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Range", RangeHeader(start, end))
	req.Header.Set("Accept", "application/pdf")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s pages %d-%d: %w", id, start, end, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, id, http.StatusPartialContent, http.StatusOK); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s pages %d-%d: %w", id, start, end, err)
	}
	return data, nil
}

func (h *HTTP) documentURL(id string) string {
	return h.baseURL + "/api/v1/documents/" + url.PathEscape(id)
}

func checkStatus(resp *http.Response, id string, accepted ...int) error {
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return &StatusError{StatusCode: resp.StatusCode, Message: id}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

var _ document.Source = (*HTTP)(nil)
