package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"sunat-client/internal/download"
	"sunat-client/internal/ple"
	"sunat-client/internal/poller"
	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/tickets"
)

// operationAliases lets the two everyday operations be typed short.
var operationAliases = map[string]tickets.OperationType{
	"download": tickets.OpDownloadDeclaration,
	"accept":   tickets.OpAcceptDeclaration,
}

func parseOperation(raw string) (tickets.OperationType, error) {
	raw = strings.TrimSpace(raw)
	if op, ok := operationAliases[raw]; ok {
		return op, nil
	}
	op := tickets.OperationType(raw)
	if !op.Valid() {
		return "", apierr.Validation("unknown operation %q", raw)
	}
	return op, nil
}

func createCommand() *command {
	var (
		period   string
		priority string
		params   map[string]string
	)
	const usage = "create <operation> --period YYYYMM [--param key=value]"
	return &command{
		name:    "create",
		summary: "Create a ticket",
		usage:   usage,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&period, "period", "", "tax period (YYYYMM)")
			fs.StringVar(&priority, "priority", string(tickets.PriorityNormal), "low, normal or high")
			fs.StringToStringVar(&params, "param", nil, "extra operation parameter (repeatable)")
		},
		run: func(ctx context.Context, s *session, args []string) error {
			if err := exactArgs(args, 1, usage); err != nil {
				return err
			}
			op, err := parseOperation(args[0])
			if err != nil {
				return err
			}
			all := map[string]string{}
			for k, v := range params {
				all[k] = v
			}
			if period != "" {
				all[tickets.ParamPeriod] = period
			}
			t, err := s.tickets.Create(ctx, tickets.CreateRequest{
				OwnerID:    s.flags.ruc,
				Operation:  op,
				Parameters: all,
				Priority:   tickets.Priority(priority),
			})
			if err != nil {
				return err
			}
			return s.render(t, func(w io.Writer) { ticketTable(w, t) })
		},
	}
}

func getCommand() *command {
	const usage = "get <ticket-id>"
	return &command{
		name:    "get",
		summary: "Show one ticket",
		usage:   usage,
		run: func(ctx context.Context, s *session, args []string) error {
			if err := exactArgs(args, 1, usage); err != nil {
				return err
			}
			t, err := s.tickets.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return s.render(t, func(w io.Writer) { ticketTable(w, t) })
		},
	}
}

func listCommand() *command {
	var (
		status string
		limit  int
		offset int
	)
	const usage = "list [--status STATUS] [--limit N]"
	return &command{
		name:    "list",
		summary: "List tickets for the RUC",
		usage:   usage,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&status, "status", "", "only tickets in this status")
			fs.IntVar(&limit, "limit", 50, "page size")
			fs.IntVar(&offset, "offset", 0, "page offset")
		},
		run: func(ctx context.Context, s *session, args []string) error {
			if err := exactArgs(args, 0, usage); err != nil {
				return err
			}
			st := tickets.Status(strings.ToUpper(strings.TrimSpace(status)))
			if st != "" && !st.Valid() {
				return apierr.Validation("unknown status %q", status)
			}
			list, err := s.tickets.List(ctx, tickets.ListFilter{OwnerID: s.flags.ruc, Status: st, Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			return s.render(list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TICKET\tOPERATION\tSTATUS\tPROGRESS\tCREATED\tFILE")
				for _, t := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
						t.ID, t.OperationType, t.Status, t.ProgressPercentage,
						formatTime(t.CreatedAt), dash(t.OutputFileName))
				}
				tw.Flush()
			})
		},
	}
}

func statsCommand() *command {
	const usage = "stats"
	return &command{
		name:    "stats",
		summary: "Show ticket counts for the RUC",
		usage:   usage,
		run: func(ctx context.Context, s *session, args []string) error {
			if err := exactArgs(args, 0, usage); err != nil {
				return err
			}
			st, err := s.tickets.Stats(ctx, s.flags.ruc)
			if err != nil {
				return err
			}
			return s.render(st, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "TOTAL\t%d\n", st.Total)
				for _, status := range tickets.Statuses() {
					fmt.Fprintf(tw, "%s\t%d\n", status, st.ByStatus[status])
				}
				if st.LastActivityAt != nil {
					fmt.Fprintf(tw, "LAST ACTIVITY\t%s\n", formatTime(*st.LastActivityAt))
				}
				tw.Flush()
			})
		},
	}
}

func cancelCommand() *command {
	const usage = "cancel <ticket-id>"
	return &command{
		name:    "cancel",
		summary: "Cancel a pending or processing ticket",
		usage:   usage,
		run: func(ctx context.Context, s *session, args []string) error {
			if err := exactArgs(args, 1, usage); err != nil {
				return err
			}
			t, err := s.tickets.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			return s.render(t, func(w io.Writer) { ticketTable(w, t) })
		},
	}
}

func waitCommand() *command {
	const usage = "wait <ticket-id>"
	return &command{
		name:    "wait",
		summary: "Poll a ticket until it reaches a terminal state",
		usage:   usage,
		run: func(ctx context.Context, s *session, args []string) error {
			if err := exactArgs(args, 1, usage); err != nil {
				return err
			}
			t, err := s.poller.PollUntilTerminal(ctx, args[0], poller.Options{OnProgress: s.progress})
			if err != nil && t.ID == "" {
				return err
			}
			if rerr := s.render(t, func(w io.Writer) { ticketTable(w, t) }); rerr != nil {
				return rerr
			}
			return err
		},
	}
}

func downloadCommand() *command {
	var dir string
	const usage = "download <ticket-id> [--dir DIR]"
	return &command{
		name:    "download",
		summary: "Wait for a ticket and write its output file",
		usage:   usage,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&dir, "dir", ".", "directory to write the file into")
		},
		run: func(ctx context.Context, s *session, args []string) error {
			if err := exactArgs(args, 1, usage); err != nil {
				return err
			}
			res, err := s.downloads.DownloadWhenReady(ctx, args[0], download.Options{OnProgress: s.progress})
			if err != nil {
				return err
			}
			path, err := writeFile(dir, res.File.Name, res.File.Data)
			if err != nil {
				return err
			}
			out := savedFile{TicketID: res.Ticket.ID, Name: res.File.Name, Path: path, SizeBytes: len(res.File.Data)}
			return s.render(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%d bytes)\n", path, out.SizeBytes)
			})
		},
	}
}

func pleCommand() *command {
	var (
		dir string
		yes bool
	)
	const usage = "ple <book-id> [--yes] [--dir DIR]"
	return &command{
		name:    "ple",
		summary: "Validate, generate and download a PLE book",
		usage:   usage,
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&dir, "dir", ".", "directory to write the archive into")
			fs.BoolVarP(&yes, "yes", "y", false, "generate even when validation reports errors")
		},
		run: func(ctx context.Context, s *session, args []string) error {
			if err := exactArgs(args, 1, usage); err != nil {
				return err
			}
			wf := ple.NewWorkflow(s.ple, ple.WithCloseDelay(time.Millisecond))
			unsub := wf.Subscribe(func(st ple.State) {
				fmt.Fprintf(s.stderr, "ple %s %s\n", st.Phase, st.Message)
			})
			defer unsub()

			st, err := wf.Run(ctx, args[0], func(_ context.Context, v ple.ValidationResult) bool {
				p := v.Preview(5)
				for _, e := range p.Errors {
					fmt.Fprintf(s.stderr, "  error: %s\n", e)
				}
				for _, w := range p.Warnings {
					fmt.Fprintf(s.stderr, "  warning: %s\n", w)
				}
				if !yes {
					fmt.Fprintf(s.stderr, "%d error(s); rerun with --yes to generate anyway\n", p.ErrorCount)
				}
				return yes
			})
			if err != nil {
				if rerr := s.render(st, func(w io.Writer) { workflowTable(w, st) }); rerr != nil {
					return rerr
				}
				return err
			}
			if st.File != nil {
				if _, err := writeFile(dir, st.File.Name, st.File.Data); err != nil {
					return err
				}
			}
			return s.render(st, func(w io.Writer) { workflowTable(w, st) })
		},
	}
}

type savedFile struct {
	TicketID  string `json:"ticket_id"`
	Name      string `json:"file_name"`
	Path      string `json:"path"`
	SizeBytes int    `json:"file_size"`
}

// writeFile writes data under dir using only the base of name.
func writeFile(dir, name string, data []byte) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", apierr.Validation("backend returned no file name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func ticketTable(w io.Writer, t tickets.Ticket) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TICKET\t%s\n", t.ID)
	fmt.Fprintf(tw, "RUC\t%s\n", dash(t.OwnerID))
	fmt.Fprintf(tw, "OPERATION\t%s\n", t.OperationType)
	fmt.Fprintf(tw, "STATUS\t%s\n", t.Status)
	fmt.Fprintf(tw, "PROGRESS\t%d%%\n", t.ProgressPercentage)
	fmt.Fprintf(tw, "MESSAGE\t%s\n", dash(t.StatusMessage))
	fmt.Fprintf(tw, "CREATED\t%s\n", formatTime(t.CreatedAt))
	fmt.Fprintf(tw, "EXPIRES\t%s\n", formatTime(t.ExpiresAt))
	if t.Output != nil {
		fmt.Fprintf(tw, "FILE\t%s (%d bytes)\n", t.Output.Name, t.Output.SizeBytes)
	}
	if t.Failure != nil {
		fmt.Fprintf(tw, "ERROR\t%s: %s\n", t.Failure.Code, t.Failure.Message)
	}
	tw.Flush()
}

func workflowTable(w io.Writer, st ple.State) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "BOOK\t%s\n", st.BookID)
	fmt.Fprintf(tw, "PHASE\t%s\n", st.Phase)
	if st.FailedPhase != "" {
		fmt.Fprintf(tw, "FAILED IN\t%s\n", st.FailedPhase)
	}
	fmt.Fprintf(tw, "MESSAGE\t%s\n", dash(st.Message))
	if st.Validation != nil {
		fmt.Fprintf(tw, "VALIDATION\t%d error(s), %d warning(s)\n", st.Validation.ErrorCount(), st.Validation.WarningCount())
	}
	if st.File != nil {
		fmt.Fprintf(tw, "FILE\t%s (%d entries)\n", st.File.Name, len(st.File.Archive.Entries))
	}
	tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
