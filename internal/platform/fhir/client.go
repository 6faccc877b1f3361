package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MIMETypeFHIRJSON is the media type FHIR R4 servers exchange resources in.
	MIMETypeFHIRJSON = "application/fhir+json"
	// MIMETypeJSONPatch is the media type for RFC 6902 patch documents.
	MIMETypeJSONPatch = "application/json-patch+json"

	defaultClientTimeout = 15 * time.Second

	// maxErrorBody caps how much of an upstream error response is read when
	// looking for an OperationOutcome.
	maxErrorBody = 8 << 10
)

// Target identifies the upstream server and credentials for a single call.
// Each session carries its own base URL and access token, so one Client is
// shared across all requests and tenants.
type Target struct {
	BaseURL string
	Token   string
}

// PatchOp is a single RFC 6902 JSON Patch operation.
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// UpstreamError reports a non-2xx response from the FHIR server. Outcome is
// populated when the body parsed as an OperationOutcome. The portal never
// retries upstream failures; callers decide whether to surface or swallow
// the error.
type UpstreamError struct {
	StatusCode int
	Outcome    *OperationOutcome
}

func (e *UpstreamError) Error() string {
	if diag := e.Outcome.Diagnostics(); diag != "" {
		return fmt.Sprintf("upstream fhir error: status %d: %s", e.StatusCode, diag)
	}
	return fmt.Sprintf("upstream fhir error: status %d", e.StatusCode)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is an upstream 401, which usually means
// the session's access token has been revoked or has expired server-side.
func IsUnauthorized(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusUnauthorized
}

// OperationRecorder receives one event per upstream call. The telemetry
// package implements it; a nil recorder disables recording.
type OperationRecorder interface {
	RecordUpstream(resourceType, operation string, status int, elapsed time.Duration)
}

// Client is a minimal FHIR REST client. It performs single interactions
// with no retry and no response caching; request deadlines come from the
// caller's context and the configured timeout.
type Client struct {
	http     *http.Client
	logger   zerolog.Logger
	recorder OperationRecorder
}

type ClientConfig struct {
	Timeout  time.Duration
	Logger   zerolog.Logger
	Recorder OperationRecorder
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
	}
}

// Read fetches a single resource by type and id and decodes it into out.
func (c *Client) Read(ctx context.Context, target Target, resourceType, id string, out interface{}) error {
	return c.do(ctx, target, call{
		method:    http.MethodGet,
		path:      resourceType + "/" + url.PathEscape(id),
		out:       out,
		operation: "read",
		resource:  resourceType,
	})
}

// Search runs a search interaction and returns the resulting bundle.
func (c *Client) Search(ctx context.Context, target Target, resourceType string, query url.Values) (*Bundle, error) {
	path := resourceType
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var bundle Bundle
	err := c.do(ctx, target, call{
		method:    http.MethodGet,
		path:      path,
		out:       &bundle,
		operation: "search",
		resource:  resourceType,
	})
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

// Create posts a new resource and decodes the server's copy into out when
// out is non-nil.
func (c *Client) Create(ctx context.Context, target Target, resourceType string, resource, out interface{}) error {
	return c.do(ctx, target, call{
		method:    http.MethodPost,
		path:      resourceType,
		body:      resource,
		out:       out,
		operation: "create",
		resource:  resourceType,
	})
}

// Update replaces a resource by id.
func (c *Client) Update(ctx context.Context, target Target, resourceType, id string, resource, out interface{}) error {
	return c.do(ctx, target, call{
		method:    http.MethodPut,
		path:      resourceType + "/" + url.PathEscape(id),
		body:      resource,
		out:       out,
		operation: "update",
		resource:  resourceType,
	})
}

// Patch applies a JSON Patch document to a resource.
func (c *Client) Patch(ctx context.Context, target Target, resourceType, id string, ops []PatchOp, out interface{}) error {
	return c.do(ctx, target, call{
		method:      http.MethodPatch,
		path:        resourceType + "/" + url.PathEscape(id),
		body:        ops,
		contentType: MIMETypeJSONPatch,
		out:         out,
		operation:   "patch",
		resource:    resourceType,
	})
}

// Delete removes a resource by id.
func (c *Client) Delete(ctx context.Context, target Target, resourceType, id string) error {
	return c.do(ctx, target, call{
		method:    http.MethodDelete,
		path:      resourceType + "/" + url.PathEscape(id),
		operation: "delete",
		resource:  resourceType,
	})
}

type call struct {
	method      string
	path        string
	contentType string
	body        interface{}
	out         interface{}
	operation   string
	resource    string
}

func (c *Client) do(ctx context.Context, target Target, req call) error {
	base := strings.TrimSuffix(target.BaseURL, "/")
	if base == "" {
		return fmt.Errorf("fhir target base url is required")
	}

	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", req.operation, req.resource, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, base+"/"+req.path, body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", req.operation, req.resource, err)
	}
	httpReq.Header.Set("Accept", MIMETypeFHIRJSON)
	if req.body != nil {
		contentType := req.contentType
		if contentType == "" {
			contentType = MIMETypeFHIRJSON
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	if target.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+target.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.record(req, 0, time.Since(start))
		return fmt.Errorf("%s %s: %w", req.operation, req.resource, err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	c.record(req, resp.StatusCode, elapsed)
	c.logger.Debug().
		Str("operation", req.operation).
		Str("resource", req.resource).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("upstream fhir call")

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeUpstreamError(resp)
	}
	if req.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(req.out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.operation, req.resource, err)
	}
	return nil
}

func (c *Client) record(req call, status int, elapsed time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordUpstream(req.resource, req.operation, status, elapsed)
	}
}

func decodeUpstreamError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	ue := &UpstreamError{StatusCode: resp.StatusCode}
	var outcome OperationOutcome
	if json.Unmarshal(raw, &outcome) == nil && outcome.ResourceType == "OperationOutcome" {
		ue.Outcome = &outcome
	}
	return ue
}
