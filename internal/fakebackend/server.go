// Package fakebackend is an in-memory stand-in for the accounting backend's
// ticket and PLE endpoints, for local development and integration tests.
package fakebackend

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sunat-client/internal/ple"
	"sunat-client/internal/shared/server/middleware"
	"sunat-client/internal/tickets"
)

// Step is one status a ticket reaches. Every GET of a live ticket advances it
// by one step.
type Step struct {
	Status   tickets.Status
	Progress int
	Message  string
}

// DefaultScript is used for operations without a specific script.
var DefaultScript = []Step{
	{Status: tickets.StatusProcessing, Progress: 25, Message: "Consultando SUNAT"},
	{Status: tickets.StatusProcessing, Progress: 60, Message: "Procesando propuesta"},
	{Status: tickets.StatusProcessing, Progress: 90, Message: "Preparando archivo"},
	{Status: tickets.StatusDone, Progress: 100, Message: "Proceso completado"},
}

// Book is a seeded PLE book.
type Book struct {
	Context    ple.Context
	Validation ple.ValidationResult
	// Records is the ledger content packed into the generated ZIP.
	Records []string
}

type ticketState struct {
	t      tickets.Ticket
	script []Step
	pos    int
	output []byte
}

// Server holds tickets and books in memory.
type Server struct {
	mu        sync.Mutex
	tickets   map[string]*ticketState
	scripts   map[tickets.OperationType][]Step
	books     map[string]Book
	generated map[string]ple.GenerateResult
	ttl       time.Duration
	now       func() time.Time
	newID     func() string
}

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTTL sets how long a ticket may stay unfinished before it expires.
func WithTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithScript sets the progression for one operation type.
func WithScript(op tickets.OperationType, steps ...Step) Option {
	return func(s *Server) {
		if len(steps) > 0 {
			s.scripts[op] = steps
		}
	}
}

// WithBook seeds a PLE book.
func WithBook(b Book) Option {
	return func(s *Server) { s.books[b.Context.BookID] = b }
}

// WithIDs overrides ticket id generation.
func WithIDs(fn func() string) Option {
	return func(s *Server) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New builds a Server.
func New(opts ...Option) *Server {
	s := &Server{
		tickets:   map[string]*ticketState{},
		scripts:   map[tickets.OperationType][]Step{},
		books:     map[string]Book{},
		generated: map[string]ple.GenerateResult{},
		ttl:       24 * time.Hour,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns a gin engine serving the backend API under /api/v1.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(), middleware.Recovery())
	s.RegisterRoutes(r.Group("/api/v1"))
	return r
}

// RegisterRoutes attaches the backend routes to rg.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/ticket/:operation", s.createTicket)
	rg.GET("/ticket/:id", s.getTicket)
	rg.DELETE("/ticket/:id", s.cancelTicket)
	rg.GET("/ticket/:id/download", s.downloadTicket)
	rg.GET("/tickets", s.listTickets)
	rg.GET("/tickets/stats", s.stats)

	rg.GET("/ple/contexto/:bookId", s.pleContext)
	rg.POST("/ple/validar", s.pleValidate)
	rg.POST("/ple/generar", s.pleGenerate)
	rg.GET("/ple/descargar/:bookId", s.pleDownload)
}

// Seed inserts a ticket as-is, for tests that need a specific starting state.
func (s *Server) Seed(t tickets.Ticket, script ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = s.now().Add(s.ttl)
	}
	st := &ticketState{t: t, script: script}
	if t.Status == tickets.StatusDone {
		st.output = s.outputLocked(&st.t)
	}
	s.tickets[t.ID] = st
}

// advanceLocked moves a live ticket one step, or to EXPIRED once past its deadline.
func (s *Server) advanceLocked(st *ticketState) {
	if st.t.Status.Terminal() {
		return
	}
	now := s.now().UTC()
	if !st.t.ExpiresAt.IsZero() && now.After(st.t.ExpiresAt) {
		st.t.Status = tickets.StatusExpired
		st.t.StatusMessage = "El ticket expiró"
		st.t.UpdatedAt = now
		return
	}
	if st.pos >= len(st.script) {
		return
	}
	step := st.script[st.pos]
	st.pos++
	st.t.Status = step.Status
	st.t.ProgressPercentage = step.Progress
	st.t.StatusMessage = step.Message
	st.t.UpdatedAt = now
	st.t.ElapsedSeconds = int(now.Sub(st.t.CreatedAt).Seconds())

	switch step.Status {
	case tickets.StatusDone:
		st.output = s.outputLocked(&st.t)
	case tickets.StatusError:
		st.t.Failure = &tickets.Failure{
			Code:     "SUNAT_ERROR",
			Message:  firstNonEmpty(step.Message, "SUNAT rechazó la operación"),
			CanRetry: true,
		}
	}
}

func (s *Server) outputLocked(t *tickets.Ticket) []byte {
	period := t.Parameters[tickets.ParamPeriod]
	name := fmt.Sprintf("%s_%s_%s.zip", strings.ReplaceAll(string(t.OperationType), "-", "_"), t.OwnerID, period)
	data, err := ple.BuildArchive([]string{"propuesta.txt"}, map[string][]byte{
		"propuesta.txt": []byte(fmt.Sprintf("%s|%s|%s\n", t.OwnerID, period, t.ID)),
	})
	if err != nil {
		return nil
	}
	t.Output = &tickets.OutputFile{Name: name, SizeBytes: int64(len(data)), Type: "application/zip"}
	return data
}

func (s *Server) summariesLocked(owner string, status tickets.Status) []tickets.Summary {
	out := []tickets.Summary{}
	for _, st := range s.tickets {
		if st.t.OwnerID != owner || (status != "" && st.t.Status != status) {
			continue
		}
		out = append(out, st.t.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
