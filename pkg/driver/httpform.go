// Package driver provides automation targets that the fill orchestrator can
// drive. The httpform target talks to an EDC form gateway over HTTP.
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clinbridge/edcfill/internal/fill"
	"github.com/clinbridge/edcfill/internal/resilience"
)

// APIError is returned when the form gateway responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("driver: HTTP %d: %s", e.StatusCode, e.Body)
}

// fieldHandle is the opaque handle the HTTP target hands to the orchestrator.
type fieldHandle struct {
	Name string
}

// fieldState is the gateway's representation of a single form field.
type fieldState struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	ReadOnly bool   `json:"read_only"`
}

// Option configures the HTTPForm target.
type Option func(*HTTPForm)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *HTTPForm) {
		t.http = hc
	}
}

// WithSelectors maps field IDs to gateway field names. Fields without an
// entry are addressed by their ID directly.
func WithSelectors(selectors map[string]string) Option {
	return func(t *HTTPForm) {
		t.selectors = selectors
	}
}

// HTTPForm implements fill.Target against an EDC form gateway exposing
// GET and PUT on /form/fields/{name}.
type HTTPForm struct {
	baseURL   string
	token     string
	selectors map[string]string
	http      *http.Client
}

var _ fill.Target = (*HTTPForm)(nil)

// NewHTTPForm creates a target for the gateway at baseURL.
func NewHTTPForm(baseURL, token string, opts ...Option) *HTTPForm {
	t := &HTTPForm{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Locate resolves the field's gateway name and confirms the element exists
// and is writable. A missing or read-only field is a permanent failure.
func (t *HTTPForm) Locate(ctx context.Context, fieldID string) (fill.Handle, error) {
	name := fieldID
	if sel, ok := t.selectors[fieldID]; ok && sel != "" {
		name = sel
	}

	var state fieldState
	if err := t.get(ctx, "/form/fields/"+name, &state); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("driver: locate %s", fieldID))
	}
	if state.ReadOnly {
		return nil, resilience.NewPermanentError(eris.New(fmt.Sprintf("driver: field %s is read-only", fieldID)))
	}
	return fieldHandle{Name: name}, nil
}

// Write sets the field's value through the gateway.
func (t *HTTPForm) Write(ctx context.Context, h fill.Handle, value string) error {
	fh, ok := h.(fieldHandle)
	if !ok {
		return resilience.NewPermanentError(eris.New("driver: handle is not an HTTP form handle"))
	}
	body := fieldState{Name: fh.Name, Value: value}
	if err := t.put(ctx, "/form/fields/"+fh.Name, body); err != nil {
		return eris.Wrap(err, fmt.Sprintf("driver: write %s", fh.Name))
	}
	return nil
}

// ReadBack fetches the field's current value as the gateway sees it.
func (t *HTTPForm) ReadBack(ctx context.Context, h fill.Handle) (string, error) {
	fh, ok := h.(fieldHandle)
	if !ok {
		return "", resilience.NewPermanentError(eris.New("driver: handle is not an HTTP form handle"))
	}
	var state fieldState
	if err := t.get(ctx, "/form/fields/"+fh.Name, &state); err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("driver: read back %s", fh.Name))
	}
	return state.Value, nil
}

func (t *HTTPForm) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	t.authorize(req)
	return t.do(req, out)
}

func (t *HTTPForm) put(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)
	return t.do(req, nil)
}

func (t *HTTPForm) authorize(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}

func (t *HTTPForm) do(req *http.Request, out any) error {
	resp, err := t.http.Do(req)
	if err != nil {
		return resilience.NewTransientError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "read response"))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return resilience.NewTransientError(apiErr)
		}
		return resilience.NewPermanentError(apiErr)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "decode response")
		}
	}
	return nil
}
