package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"sunat-client/internal/download"
	"sunat-client/internal/ple"
	"sunat-client/internal/poller"
	"sunat-client/internal/shared/backend"
	"sunat-client/internal/shared/config"
	"sunat-client/internal/tickets"
)

type globalFlags struct {
	backendURL  string
	token       string
	ruc         string
	output      string
	interval    time.Duration
	maxAttempts int
}

func bindGlobal(fs *pflag.FlagSet, cfg config.Config) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.backendURL, "backend", cfg.BackendURL, "accounting backend base URL")
	fs.StringVar(&g.token, "token", cfg.BackendToken, "bearer token for the backend")
	fs.StringVar(&g.ruc, "ruc", cfg.DefaultRUC, "taxpayer RUC")
	fs.StringVarP(&g.output, "output", "o", "table", "output format: table, json or yaml")
	fs.DurationVar(&g.interval, "interval", cfg.PollInterval, "poll interval")
	fs.IntVar(&g.maxAttempts, "max-attempts", cfg.PollMaxAttempts, "poll attempt budget")
	return g
}

// session is what a subcommand works with once flags are parsed.
type session struct {
	flags     *globalFlags
	stdout    io.Writer
	stderr    io.Writer
	tickets   *tickets.Client
	ple       *ple.Client
	poller    *poller.Poller
	downloads *download.Coordinator
}

func newSession(cfg config.Config, g *globalFlags, stdout, stderr io.Writer) (*session, error) {
	switch g.output {
	case "table", "json", "yaml":
	default:
		return nil, fmt.Errorf("%w: --output must be table, json or yaml", errUsage)
	}
	g.ruc = strings.TrimSpace(g.ruc)

	b, err := backend.New(backend.Options{BaseURL: g.backendURL, Token: g.token, Timeout: cfg.BackendTimeout})
	if err != nil {
		return nil, err
	}
	tc := tickets.NewClient(b)
	p := poller.New(tc, poller.WithDefaults(g.interval, g.maxAttempts))
	return &session{
		flags:     g,
		stdout:    stdout,
		stderr:    stderr,
		tickets:   tc,
		ple:       ple.NewClient(b),
		poller:    p,
		downloads: download.New(p, tc, nil, nil),
	}, nil
}

// progress prints one line per accepted snapshot to stderr.
func (s *session) progress(t tickets.Ticket) {
	msg := t.StatusMessage
	if msg == "" {
		msg = "-"
	}
	fmt.Fprintf(s.stderr, "%s %-10s %3d%% %s\n", t.ID, t.Status, t.ProgressPercentage, msg)
}

// render writes v as JSON or YAML, or calls table for the default format.
// YAML keys follow the JSON field names.
func (s *session) render(v any, table func(w io.Writer)) error {
	switch s.flags.output {
	case "json":
		enc := json.NewEncoder(s.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err = s.stdout.Write(buf.Bytes())
		return err
	default:
		table(s.stdout)
		return nil
	}
}
