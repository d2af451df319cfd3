package fakebackend

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/ple"
	"sunat-client/internal/tickets"
)

type createBody struct {
	OwnerID    string            `json:"ruc"`
	Parameters map[string]string `json:"operation_params"`
	Priority   tickets.Priority  `json:"priority"`
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (s *Server) createTicket(c *gin.Context) {
	op := tickets.OperationType(c.Param("operation"))
	if !op.Valid() {
		detail(c, http.StatusNotFound, fmt.Sprintf("Operación no soportada: %s", op))
		return
	}
	var body createBody
	if err := c.ShouldBindJSON(&body); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Cuerpo de solicitud inválido")
		return
	}
	req := tickets.CreateRequest{OwnerID: body.OwnerID, Operation: op, Parameters: body.Parameters, Priority: body.Priority}.Normalize()
	if err := req.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": err.Error(), "loc": []string{"body"}}}})
		return
	}

	s.mu.Lock()
	now := s.now().UTC()
	script := s.scripts[op]
	if script == nil {
		script = DefaultScript
	}
	st := &ticketState{
		t: tickets.Ticket{
			ID:                       s.newID(),
			OwnerID:                  req.OwnerID,
			OperationType:            op,
			Status:                   tickets.StatusPending,
			Priority:                 req.Priority,
			Parameters:               req.Parameters,
			StatusMessage:            "En cola",
			CreatedAt:                now,
			UpdatedAt:                now,
			ExpiresAt:                now.Add(s.ttl),
			EstimatedDurationSeconds: 10 * len(script),
		},
		script: script,
	}
	s.tickets[st.t.ID] = st
	t := st.t
	s.mu.Unlock()

	c.JSON(http.StatusCreated, t)
}

func (s *Server) getTicket(c *gin.Context) {
	s.mu.Lock()
	st, ok := s.tickets[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		detail(c, http.StatusNotFound, "Ticket no encontrado")
		return
	}
	s.advanceLocked(st)
	t := st.t
	s.mu.Unlock()
	c.JSON(http.StatusOK, t)
}

func (s *Server) cancelTicket(c *gin.Context) {
	s.mu.Lock()
	st, ok := s.tickets[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		detail(c, http.StatusNotFound, "Ticket no encontrado")
		return
	}
	if st.t.Status.Terminal() {
		status := st.t.Status
		s.mu.Unlock()
		detail(c, http.StatusConflict, fmt.Sprintf("El ticket ya finalizó con estado %s", status))
		return
	}
	st.t.Status = tickets.StatusCancelled
	st.t.StatusMessage = "Cancelado por el usuario"
	st.t.UpdatedAt = s.now().UTC()
	t := st.t
	s.mu.Unlock()
	c.JSON(http.StatusOK, t)
}

func (s *Server) downloadTicket(c *gin.Context) {
	s.mu.Lock()
	st, ok := s.tickets[c.Param("id")]
	if !ok {
		s.mu.Unlock()
		detail(c, http.StatusNotFound, "Ticket no encontrado")
		return
	}
	if st.t.Status != tickets.StatusDone || st.t.Output == nil {
		s.mu.Unlock()
		detail(c, http.StatusConflict, "El archivo aún no está disponible")
		return
	}
	name, data := st.t.Output.Name, st.output
	s.mu.Unlock()
	sendZip(c, name, data)
}

func (s *Server) listTickets(c *gin.Context) {
	owner := strings.TrimSpace(c.Query("ruc"))
	if owner == "" {
		detail(c, http.StatusBadRequest, "ruc es obligatorio")
		return
	}
	limit := atoiDefault(c.Query("limit"), 20)
	offset := atoiDefault(c.Query("offset"), 0)

	s.mu.Lock()
	all := s.summariesLocked(owner, tickets.Status(c.Query("status")))
	s.mu.Unlock()

	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	c.JSON(http.StatusOK, gin.H{"tickets": all[offset:end], "total": len(all)})
}

func (s *Server) stats(c *gin.Context) {
	owner := strings.TrimSpace(c.Query("ruc"))
	out := tickets.Statistics{OwnerID: owner, ByStatus: map[tickets.Status]int{}}

	s.mu.Lock()
	for _, st := range s.tickets {
		if owner != "" && st.t.OwnerID != owner {
			continue
		}
		out.Total++
		out.ByStatus[st.t.Status]++
		if out.LastActivityAt == nil || st.t.UpdatedAt.After(*out.LastActivityAt) {
			at := st.t.UpdatedAt
			out.LastActivityAt = &at
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) pleContext(c *gin.Context) {
	s.mu.Lock()
	b, ok := s.books[c.Param("bookId")]
	s.mu.Unlock()
	if !ok {
		detail(c, http.StatusNotFound, "Libro no encontrado")
		return
	}
	c.JSON(http.StatusOK, b.Context)
}

type validateBody struct {
	BookID string              `json:"bookId"`
	Flags  ple.ValidationFlags `json:"validationFlags"`
}

func (s *Server) pleValidate(c *gin.Context) {
	var body validateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Cuerpo de solicitud inválido")
		return
	}
	s.mu.Lock()
	b, ok := s.books[body.BookID]
	s.mu.Unlock()
	if !ok {
		detail(c, http.StatusNotFound, "Libro no encontrado")
		return
	}
	v := b.Validation
	if !body.Flags.Structure {
		v.Basic = ple.BasicResult{Valid: true}
	}
	if !body.Flags.SunatRules {
		v.Authority = ple.AuthorityResult{Valid: true}
	}
	v.Valid = v.Basic.Valid && v.Authority.Valid
	c.JSON(http.StatusOK, v)
}

// pleGenerate refuses only critical SUNAT-rule errors; anything else is left
// to the client's confirmation.
func (s *Server) pleGenerate(c *gin.Context) {
	var req ple.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "Cuerpo de solicitud inválido")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[req.BookID]
	if !ok {
		detail(c, http.StatusNotFound, "Libro no encontrado")
		return
	}
	if req.FiscalYear != b.Context.FiscalYear || req.Month != b.Context.Month {
		detail(c, http.StatusBadRequest, "El periodo no corresponde al libro")
		return
	}

	if req.Options.ValidateBeforeGenerate {
		var critical []string
		for _, is := range b.Validation.Authority.Errors {
			if is.Critical {
				critical = append(critical, is.String())
			}
		}
		if len(critical) > 0 {
			c.JSON(http.StatusOK, ple.GenerateResult{
				Success:  false,
				Message:  "La validación previa encontró errores críticos",
				Errors:   critical,
				Warnings: b.Validation.WarningMessages(),
			})
			return
		}
	}

	res := ple.GenerateResult{
		Success:     true,
		FileName:    pleFileName(b.Context),
		RecordCount: len(b.Records),
		Message:     "Archivo PLE generado",
		Errors:      []string{},
		Warnings:    b.Validation.WarningMessages(),
	}
	s.generated[periodKey(req.BookID, req.FiscalYear, req.Month)] = res
	c.JSON(http.StatusOK, res)
}

func (s *Server) pleDownload(c *gin.Context) {
	bookID := c.Param("bookId")
	year := atoiDefault(c.Query("fiscalYear"), 0)
	month := atoiDefault(c.Query("month"), 0)

	s.mu.Lock()
	b, ok := s.books[bookID]
	res, generated := s.generated[periodKey(bookID, year, month)]
	s.mu.Unlock()
	if !ok {
		detail(c, http.StatusNotFound, "Libro no encontrado")
		return
	}
	if !generated {
		detail(c, http.StatusConflict, "El archivo PLE aún no fue generado")
		return
	}

	txt := strings.TrimSuffix(res.FileName, ".zip") + ".txt"
	var body bytes.Buffer
	for _, line := range b.Records {
		body.WriteString(line)
		body.WriteString("\r\n")
	}
	data, err := ple.BuildArchive([]string{txt}, map[string][]byte{txt: body.Bytes()})
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	sendZip(c, res.FileName, data)
}

// pleFileName follows the SUNAT naming: LE + RUC + YYYYMM00 + book code + flags.
func pleFileName(ctx ple.Context) string {
	return fmt.Sprintf("LE%s%04d%02d00%s00011111.zip", ctx.RUC, ctx.FiscalYear, ctx.Month, ctx.BookCode)
}

func periodKey(bookID string, year, month int) string {
	return fmt.Sprintf("%s|%04d%02d", bookID, year, month)
}

func sendZip(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Data(http.StatusOK, "application/zip", data)
}

func atoiDefault(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}
