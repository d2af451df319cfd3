package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/telemetry"
)

const defaultTimeout = 60 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL string
	// Token is attached as a bearer token when set. It is never refreshed.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is the shared request/response transport for the accounting backend.
// It performs no caching and no retries.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Blob is a binary response body with the file name the backend assigned to it.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("BACKEND_URL is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https: %q", raw)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if token := strings.TrimSpace(opts.Token); token != "" {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		httpClient = &http.Client{
			Timeout: httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
				Base:   base,
			},
		}
	}

	return &Client{baseURL: base, httpClient: httpClient}, nil
}

// DoJSON sends body (if non-nil) as JSON and decodes a 2xx response into out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.KindValidation, err, "encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	resp, err := c.do(ctx, method, path, query, reader, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierr.Wrap(apierr.KindTransport, err, "read response body")
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apierr.Wrap(apierr.KindTransport, err, "decode response body")
	}
	return nil
}

// Download fetches a binary body. The file name is taken verbatim from
// Content-Disposition, falling back to X-File-Name.
func (c *Client) Download(ctx context.Context, path string, query url.Values) (Blob, error) {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return Blob{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Blob{}, apierr.Wrap(apierr.KindTransport, err, "read download body")
	}
	return Blob{
		Name:        FileNameFromHeader(resp.Header),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "build request")
	}
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		telemetry.Error("backend.transport", map[string]any{
			"request_id": requestID,
			"method":     method,
			"path":       target.Path,
			"error":      err.Error(),
		})
		return nil, apierr.Wrap(apierr.KindTransport, err, "backend request failed")
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := decodeError(resp.StatusCode, data)
	telemetry.Error("backend.error", map[string]any{
		"request_id": requestID,
		"method":     method,
		"path":       target.Path,
		"status":     resp.StatusCode,
		"kind":       string(apiErr.Kind),
		"message":    apiErr.Message,
	})
	return nil, apiErr
}

// FileNameFromHeader extracts the download file name from response headers.
func FileNameFromHeader(h http.Header) string {
	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	return strings.TrimSpace(h.Get("X-File-Name"))
}

type requestIDKey struct{}

// WithRequestID attaches a request ID that outgoing calls reuse.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request ID set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
