package bridge

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sunat-client/internal/download"
	"sunat-client/internal/ple"
	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/backend"
	"sunat-client/internal/shared/server/middleware"
	"sunat-client/internal/shared/server/respond"
	"sunat-client/internal/tickets"
	"sunat-client/internal/tracker"
)

// Handler exposes the tracker, download coordinator and PLE workflows to a
// local UI.
type Handler struct {
	Tracker   *tracker.Tracker
	Downloads *download.Coordinator
	Workflows *Workflows
}

// NewHandler constructs a Handler.
func NewHandler(t *tracker.Tracker, d *download.Coordinator, w *Workflows) *Handler {
	return &Handler{Tracker: t, Downloads: d, Workflows: w}
}

// RegisterRoutes attaches ticket and PLE routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tickets", h.list)
	rg.GET("/tickets/stats", h.stats)
	rg.POST("/tickets/download", h.createDownload)
	rg.POST("/tickets/accept", h.createAccept)
	rg.GET("/tickets/:id", h.monitor)
	rg.DELETE("/tickets/:id", h.cancel)
	rg.POST("/tickets/:id/download", h.download)

	rg.GET("/ple/:bookId/workflow", h.workflowState)
	rg.POST("/ple/:bookId/workflow", h.runWorkflow)
	rg.DELETE("/ple/:bookId/workflow", h.resetWorkflow)
	rg.GET("/ple/:bookId/workflow/file", h.workflowFile)
}

// requestContext forwards the bridge request id to the accounting backend.
func requestContext(c *gin.Context) context.Context {
	return backend.WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}

func requireOwner(c *gin.Context) (string, bool) {
	ruc := middleware.OwnerFromContext(c)
	if ruc == "" {
		respond.FromError(c, apierr.Validation("RUC is required; send X-Ruc or set DEFAULT_RUC"))
		return "", false
	}
	return ruc, true
}

func (h *Handler) list(c *gin.Context) {
	ruc, ok := requireOwner(c)
	if !ok {
		return
	}
	status := tickets.Status(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.Valid() {
		respond.FromError(c, apierr.Validation("unknown status %q", c.Query("status")))
		return
	}

	if err := h.Tracker.LoadTickets(requestContext(c), ruc, status); err != nil {
		respond.FromError(c, err)
		return
	}
	st := h.Tracker.Tickets()
	respond.OK(c, listResponse{RUC: st.OwnerID, Status: st.Status, Tickets: st.Tickets, UpdatedAt: st.UpdatedAt})
}

func (h *Handler) stats(c *gin.Context) {
	ruc, ok := requireOwner(c)
	if !ok {
		return
	}
	if err := h.Tracker.LoadStats(requestContext(c), ruc); err != nil {
		respond.FromError(c, err)
		return
	}
	st := h.Tracker.Stats()
	respond.OK(c, statsResponse{Stats: st.Stats, UpdatedAt: st.UpdatedAt})
}

func (h *Handler) createDownload(c *gin.Context) {
	h.create(c, h.Tracker.CreateDownloadTicket)
}

func (h *Handler) createAccept(c *gin.Context) {
	h.create(c, h.Tracker.CreateAcceptTicket)
}

func (h *Handler) create(c *gin.Context, fn func(ctx context.Context, ownerID, period string) (tickets.Ticket, error)) {
	ruc, ok := requireOwner(c)
	if !ok {
		return
	}
	var req periodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.FromError(c, apierr.Validation("invalid request body"))
		return
	}

	t, err := fn(requestContext(c), ruc, strings.TrimSpace(req.Period))
	if err != nil {
		respond.FromError(c, err)
		return
	}
	c.Set("ticketId", t.ID)
	c.Set("statusTransition", tickets.Transition("", t.Status))
	respond.Created(c, t)
}

func (h *Handler) monitor(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("ticketId", id)
	prior := h.listedStatus(id)

	m, err := h.Tracker.Monitor(requestContext(c), id)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	resp := monitorResponse{Ticket: m.Current()}
	if resp.Ticket != nil {
		resp.Terminal = resp.Ticket.Status.Terminal()
		if prior != resp.Ticket.Status {
			c.Set("statusTransition", tickets.Transition(prior, resp.Ticket.Status))
		}
	}
	if merr := m.Err(); merr != nil {
		resp.Error = &respond.ErrorBody{Code: string(apierr.KindOf(merr)), Message: apierr.Message(merr)}
	}
	respond.OK(c, resp)
}

func (h *Handler) cancel(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("ticketId", id)
	prior := h.listedStatus(id)

	t, err := h.Tracker.CancelTicket(requestContext(c), id)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	c.Set("statusTransition", tickets.Transition(prior, t.Status))
	respond.OK(c, t)
}

// listedStatus is the status id had in the last list the tracker loaded.
func (h *Handler) listedStatus(id string) tickets.Status {
	for _, s := range h.Tracker.Tickets().Tickets {
		if s.ID == id {
			return s.Status
		}
	}
	return ""
}

// download waits for the ticket and either saves the output to the object
// store (default) or streams it back when ?save=false or no store is set.
func (h *Handler) download(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("ticketId", id)
	ctx := requestContext(c)

	res, err := h.Downloads.DownloadWhenReady(ctx, id, download.Options{})
	if err != nil {
		respond.FromError(c, err)
		return
	}

	if c.Query("save") == "false" || !h.Downloads.CanSave() {
		sendFile(c, res.File.Name, res.File.ContentType, res.File.Data)
		return
	}

	owner := res.Ticket.OwnerID
	if owner == "" {
		owner = middleware.OwnerFromContext(c)
	}
	obj, err := h.Downloads.Save(ctx, owner, id, res.File)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, downloadResponse{
		Ticket: res.Ticket,
		File:   fileInfo{Name: res.File.Name, SizeBytes: len(res.File.Data), Type: res.File.ContentType},
		Object: &obj,
	})
}

func (h *Handler) workflowState(c *gin.Context) {
	bookID := strings.TrimSpace(c.Param("bookId"))
	c.Set("bookId", bookID)
	wf, ok := h.Workflows.Peek(bookID)
	if !ok {
		respond.OK(c, workflowResponse{State: ple.State{Phase: ple.PhaseIdle, BookID: bookID}})
		return
	}
	respond.OK(c, workflowResponse{State: wf.Snapshot()})
}

func (h *Handler) runWorkflow(c *gin.Context) {
	bookID := strings.TrimSpace(c.Param("bookId"))
	c.Set("bookId", bookID)

	var req runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.FromError(c, apierr.Validation("invalid request body"))
			return
		}
	}

	wf := h.Workflows.For(bookID)
	state, err := wf.Run(requestContext(c), bookID, func(context.Context, ple.ValidationResult) bool {
		return req.Confirm
	})
	if err != nil {
		status := respond.StatusFor(err)
		code := string(apierr.KindOf(err))
		if errors.Is(err, ple.ErrBusy) {
			status, code = http.StatusConflict, "busy"
		}
		if code == "" {
			code = "internal"
		}
		respond.JSON(c, status, workflowResponse{
			State: state,
			Error: &respond.ErrorBody{Code: code, Message: apierr.Message(err)},
		})
		return
	}
	respond.OK(c, workflowResponse{State: state})
}

func (h *Handler) resetWorkflow(c *gin.Context) {
	bookID := strings.TrimSpace(c.Param("bookId"))
	c.Set("bookId", bookID)
	wf, ok := h.Workflows.Peek(bookID)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	if err := wf.Reset(); err != nil {
		respond.Error(c, http.StatusConflict, "busy", err.Error(), nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) workflowFile(c *gin.Context) {
	bookID := strings.TrimSpace(c.Param("bookId"))
	c.Set("bookId", bookID)
	wf, ok := h.Workflows.Peek(bookID)
	if !ok {
		respond.FromError(c, apierr.New(apierr.KindNotFound, "no workflow for book %s", bookID))
		return
	}
	st := wf.Snapshot()
	if st.File == nil || len(st.File.Data) == 0 {
		respond.FromError(c, apierr.New(apierr.KindNotReady, "the PLE file has not been downloaded yet"))
		return
	}
	sendFile(c, st.File.Name, "application/zip", st.File.Data)
}

func sendFile(c *gin.Context, name, contentType string, data []byte) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.Header("Content-Disposition", contentDisposition(name))
	c.DataFromReader(http.StatusOK, int64(len(data)), contentType, bytes.NewReader(data), nil)
}

// contentDisposition formats an RFC 6266 attachment header. Names outside the
// token charset are quoted or encoded as filename*.
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
