package bridge

import (
	"time"

	"sunat-client/internal/ple"
	"sunat-client/internal/shared/server/respond"
	"sunat-client/internal/shared/storage/object"
	"sunat-client/internal/tickets"
)

type periodRequest struct {
	Period string `json:"period"`
}

type listResponse struct {
	RUC       string            `json:"ruc"`
	Status    tickets.Status    `json:"status,omitempty"`
	Tickets   []tickets.Summary `json:"tickets"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type statsResponse struct {
	Stats     *tickets.Statistics `json:"stats"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type monitorResponse struct {
	Ticket   *tickets.Ticket    `json:"ticket"`
	Terminal bool               `json:"terminal"`
	Error    *respond.ErrorBody `json:"error,omitempty"`
}

type fileInfo struct {
	Name      string `json:"file_name"`
	SizeBytes int    `json:"file_size"`
	Type      string `json:"file_type,omitempty"`
}

type downloadResponse struct {
	Ticket tickets.Ticket `json:"ticket"`
	File   fileInfo       `json:"file"`
	Object *object.Object `json:"object,omitempty"`
}

type runRequest struct {
	Confirm bool `json:"confirm"`
}

type workflowResponse struct {
	State ple.State          `json:"state"`
	Error *respond.ErrorBody `json:"error,omitempty"`
}
