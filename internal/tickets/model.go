package tickets

import (
	"time"

	"sunat-client/internal/shared/backend"
)

// Status is the lifecycle state of a ticket as reported by the backend.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
	StatusExpired    Status = "EXPIRED"
	StatusCancelled  Status = "CANCELLED"
)

// OperationType names the SIRE/RVIE operation a ticket runs.
type OperationType string

const (
	OpDownloadDeclaration     OperationType = "download-declaration"
	OpAcceptDeclaration       OperationType = "accept-declaration"
	OpReplaceDeclaration      OperationType = "replace-declaration"
	OpRegisterPreliminary     OperationType = "register-preliminary"
	OpDownloadInconsistencies OperationType = "download-inconsistencies"
	OpGenerateSummary         OperationType = "generate-summary"
)

// Priority is the queueing hint sent with a new ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// OutputFile describes the file a DONE ticket produced.
type OutputFile struct {
	Name      string `json:"file_name"`
	SizeBytes int64  `json:"file_size"`
	Type      string `json:"file_type,omitempty"`
}

// Failure describes why a ticket ended in ERROR.
type Failure struct {
	Code     string   `json:"error_code"`
	Message  string   `json:"error_message"`
	Details  []string `json:"error_details,omitempty"`
	CanRetry bool     `json:"can_retry"`
}

// Ticket is one backend job. Only the backend mutates it; the client observes.
type Ticket struct {
	ID                       string            `json:"ticket_id"`
	OwnerID                  string            `json:"ruc"`
	OperationType            OperationType     `json:"operation_type"`
	Status                   Status            `json:"status"`
	Priority                 Priority          `json:"priority,omitempty"`
	Parameters               map[string]string `json:"operation_params,omitempty"`
	ProgressPercentage       int               `json:"progress_percentage"`
	StatusMessage            string            `json:"status_message,omitempty"`
	DetailedMessage          string            `json:"detailed_message,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
	ExpiresAt                time.Time         `json:"expires_at"`
	EstimatedDurationSeconds int               `json:"estimated_duration_seconds,omitempty"`
	ElapsedSeconds           int               `json:"elapsed_seconds,omitempty"`
	RemainingSeconds         int               `json:"remaining_seconds,omitempty"`
	Output                   *OutputFile       `json:"output_file,omitempty"`
	Failure                  *Failure          `json:"error_info,omitempty"`
}

// Summary is the list-friendly projection of a Ticket.
type Summary struct {
	ID                 string        `json:"ticket_id"`
	OperationType      OperationType `json:"operation_type"`
	Status             Status        `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	ProgressPercentage int           `json:"progress_percentage"`
	StatusMessage      string        `json:"status_message,omitempty"`
	OutputFileName     string        `json:"output_file_name,omitempty"`
}

// Statistics are server-computed ticket counts for an owner.
type Statistics struct {
	OwnerID        string         `json:"ruc,omitempty"`
	Total          int            `json:"total"`
	ByStatus       map[Status]int `json:"by_status"`
	LastActivityAt *time.Time     `json:"last_activity_at,omitempty"`
}

// File is a retrieved output: the backend's file name plus the raw bytes.
type File = backend.Blob

// Summary projects the ticket into its list form.
func (t Ticket) Summary() Summary {
	s := Summary{
		ID:                 t.ID,
		OperationType:      t.OperationType,
		Status:             t.Status,
		CreatedAt:          t.CreatedAt,
		ProgressPercentage: t.ProgressPercentage,
		StatusMessage:      t.StatusMessage,
	}
	if t.Output != nil {
		s.OutputFileName = t.Output.Name
	}
	return s
}

// Consistent reports whether the output/failure descriptors match the status:
// neither while active, exactly the matching one once DONE or ERROR.
func (t Ticket) Consistent() bool {
	switch t.Status {
	case StatusPending, StatusProcessing:
		return t.Output == nil && t.Failure == nil
	case StatusDone:
		return t.Output != nil && t.Failure == nil
	case StatusError:
		return t.Failure != nil && t.Output == nil
	case StatusExpired, StatusCancelled:
		return t.Output == nil
	default:
		return false
	}
}
