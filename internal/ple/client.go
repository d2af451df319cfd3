package ple

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/backend"
)

// API is the backend surface of the PLE flow.
type API interface {
	Context(ctx context.Context, bookID string) (Context, error)
	Validate(ctx context.Context, bookID string, flags ValidationFlags) (ValidationResult, error)
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	Download(ctx context.Context, bookID string, fiscalYear, month int) (backend.Blob, error)
}

// Client implements API over HTTP.
type Client struct {
	backend *backend.Client
}

// NewClient wraps a backend transport.
func NewClient(b *backend.Client) *Client {
	return &Client{backend: b}
}

// Context loads fiscal year, month and tenant data for a book.
func (c *Client) Context(ctx context.Context, bookID string) (Context, error) {
	id, err := cleanBookID(bookID)
	if err != nil {
		return Context{}, err
	}
	var out Context
	if err := c.backend.DoJSON(ctx, http.MethodGet, "/ple/contexto/"+id, nil, nil, &out); err != nil {
		return Context{}, err
	}
	if out.BookID == "" {
		out.BookID = strings.TrimSpace(bookID)
	}
	return out, nil
}

type validateBody struct {
	BookID string          `json:"bookId"`
	Flags  ValidationFlags `json:"validationFlags"`
}

// Validate runs the structural and SUNAT-rule checks.
func (c *Client) Validate(ctx context.Context, bookID string, flags ValidationFlags) (ValidationResult, error) {
	if _, err := cleanBookID(bookID); err != nil {
		return ValidationResult{}, err
	}
	var out ValidationResult
	body := validateBody{BookID: strings.TrimSpace(bookID), Flags: flags}
	if err := c.backend.DoJSON(ctx, http.MethodPost, "/ple/validar", nil, body, &out); err != nil {
		return ValidationResult{}, err
	}
	return out, nil
}

// Generate asks the backend to build the PLE files. validateBeforeGenerate is
// forced on so the backend gate always runs.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if _, err := cleanBookID(req.BookID); err != nil {
		return GenerateResult{}, err
	}
	if err := checkPeriod(req.FiscalYear, req.Month); err != nil {
		return GenerateResult{}, err
	}
	req.Options.ValidateBeforeGenerate = true
	var out GenerateResult
	if err := c.backend.DoJSON(ctx, http.MethodPost, "/ple/generar", nil, req, &out); err != nil {
		return GenerateResult{}, err
	}
	return out, nil
}

// Download fetches the generated ZIP for a period.
func (c *Client) Download(ctx context.Context, bookID string, fiscalYear, month int) (backend.Blob, error) {
	id, err := cleanBookID(bookID)
	if err != nil {
		return backend.Blob{}, err
	}
	if err := checkPeriod(fiscalYear, month); err != nil {
		return backend.Blob{}, err
	}
	q := url.Values{}
	q.Set("fiscalYear", strconv.Itoa(fiscalYear))
	q.Set("month", strconv.Itoa(month))
	return c.backend.Download(ctx, "/ple/descargar/"+id, q)
}

func cleanBookID(bookID string) (string, error) {
	id := strings.TrimSpace(bookID)
	if id == "" {
		return "", apierr.Validation("book id is required")
	}
	return url.PathEscape(id), nil
}

func checkPeriod(fiscalYear, month int) error {
	if fiscalYear < 2000 || fiscalYear > 9999 {
		return apierr.Validation("invalid fiscal year %d", fiscalYear)
	}
	if month < 1 || month > 12 {
		return apierr.Validation("invalid month %d", month)
	}
	return nil
}

var _ API = (*Client)(nil)
