package tickets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/backend"
	"sunat-client/internal/shared/metrics"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// API is the request/response surface of the backend ticket service.
type API interface {
	Create(ctx context.Context, req CreateRequest) (Ticket, error)
	Get(ctx context.Context, ticketID string) (Ticket, error)
	List(ctx context.Context, filter ListFilter) ([]Summary, error)
	Stats(ctx context.Context, ownerID string) (Statistics, error)
	Cancel(ctx context.Context, ticketID string) (Ticket, error)
	FetchOutput(ctx context.Context, ticketID string) (File, error)
}

// ListFilter narrows a ticket listing.
type ListFilter struct {
	OwnerID string
	Status  Status
	Limit   int
	Offset  int
}

// Client implements API over HTTP. It holds no ticket state.
type Client struct {
	backend *backend.Client
}

// NewClient wraps a backend transport.
func NewClient(b *backend.Client) *Client {
	return &Client{backend: b}
}

type createBody struct {
	OwnerID    string            `json:"ruc"`
	Parameters map[string]string `json:"operation_params"`
	Priority   Priority          `json:"priority"`
}

// Create starts a new backend job. Missing parameters fail before any request is sent.
func (c *Client) Create(ctx context.Context, req CreateRequest) (Ticket, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Ticket{}, err
	}
	var t Ticket
	body := createBody{OwnerID: req.OwnerID, Parameters: req.Parameters, Priority: req.Priority}
	if err := c.backend.DoJSON(ctx, http.MethodPost, "/ticket/"+string(req.Operation), nil, body, &t); err != nil {
		return Ticket{}, err
	}
	if err := CheckSnapshot(t); err != nil {
		return Ticket{}, err
	}
	metrics.IncTicketsCreated()
	return t, nil
}

// Get fetches the full ticket.
func (c *Client) Get(ctx context.Context, ticketID string) (Ticket, error) {
	id, err := cleanID(ticketID)
	if err != nil {
		return Ticket{}, err
	}
	var t Ticket
	if err := c.backend.DoJSON(ctx, http.MethodGet, "/ticket/"+id, nil, nil, &t); err != nil {
		return Ticket{}, err
	}
	if err := CheckSnapshot(t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// List returns ticket summaries for an owner, newest first.
func (c *Client) List(ctx context.Context, filter ListFilter) ([]Summary, error) {
	owner := strings.TrimSpace(filter.OwnerID)
	if owner == "" {
		return nil, apierr.Validation("ruc is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apierr.Validation("unknown status %q", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	q := url.Values{}
	q.Set("ruc", owner)
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var raw json.RawMessage
	if err := c.backend.DoJSON(ctx, http.MethodGet, "/tickets", q, nil, &raw); err != nil {
		return nil, err
	}
	return decodeSummaries(raw)
}

// Stats returns server-computed counts. An empty owner asks for all owners.
func (c *Client) Stats(ctx context.Context, ownerID string) (Statistics, error) {
	q := url.Values{}
	if owner := strings.TrimSpace(ownerID); owner != "" {
		q.Set("ruc", owner)
	}
	var s Statistics
	if err := c.backend.DoJSON(ctx, http.MethodGet, "/tickets/stats", q, nil, &s); err != nil {
		return Statistics{}, err
	}
	if s.ByStatus == nil {
		s.ByStatus = map[Status]int{}
	}
	return s, nil
}

// Cancel asks the backend to cancel the ticket and returns its view afterwards.
// The backend decides whether the cancellation is honored.
func (c *Client) Cancel(ctx context.Context, ticketID string) (Ticket, error) {
	id, err := cleanID(ticketID)
	if err != nil {
		return Ticket{}, err
	}
	var t Ticket
	if err := c.backend.DoJSON(ctx, http.MethodDelete, "/ticket/"+id, nil, nil, &t); err != nil {
		return Ticket{}, err
	}
	if err := CheckSnapshot(t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// FetchOutput downloads the output of a DONE ticket.
func (c *Client) FetchOutput(ctx context.Context, ticketID string) (File, error) {
	id, err := cleanID(ticketID)
	if err != nil {
		return File{}, err
	}
	blob, err := c.backend.Download(ctx, "/ticket/"+id+"/download", nil)
	if err != nil {
		return File{}, err
	}
	metrics.IncDownloads()
	return blob, nil
}

func cleanID(ticketID string) (string, error) {
	id := strings.TrimSpace(ticketID)
	if id == "" {
		return "", apierr.Validation("ticket id is required")
	}
	return url.PathEscape(id), nil
}

// decodeSummaries accepts a bare array or an object wrapping it under "tickets".
func decodeSummaries(raw json.RawMessage) ([]Summary, error) {
	out := []Summary{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err == nil {
		return out, nil
	}
	var wrapped struct {
		Tickets []Summary `json:"tickets"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, apierr.Wrap(apierr.KindTransport, err, "decode ticket list")
	}
	if wrapped.Tickets == nil {
		return out, nil
	}
	return wrapped.Tickets, nil
}

var _ API = (*Client)(nil)
