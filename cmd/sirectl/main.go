package main

// Operate accounting backend tickets from a terminal:
//   go run ./cmd/sirectl create download --period 202412
//   go run ./cmd/sirectl download <ticket-id> --dir ./out
//   go run ./cmd/sirectl ple <book-id> --yes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/config"
)

type command struct {
	name    string
	summary string
	usage   string
	flags   func(fs *pflag.FlagSet)
	run     func(ctx context.Context, s *session, args []string) error
}

func commands() map[string]*command {
	cmds := []*command{
		createCommand(),
		getCommand(),
		listCommand(),
		statsCommand(),
		cancelCommand(),
		waitCommand(),
		downloadCommand(),
		pleCommand(),
	}
	out := make(map[string]*command, len(cmds))
	for _, c := range cmds {
		out[c.name] = c
	}
	return out
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", apierr.Message(err))
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

// run parses global and subcommand flags and dispatches. stdout carries the
// rendered result only; progress goes to stderr.
func run(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	cmds := commands()
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stderr, cmds)
		if len(args) == 0 {
			return errUsage
		}
		return nil
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		printUsage(stderr, cmds)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	g := bindGlobal(fs, cfg)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: sirectl %s\n\n%s\n\nflags:\n%s", cmd.usage, cmd.summary, fs.FlagUsages())
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	s, err := newSession(cfg, g, stdout, stderr)
	if err != nil {
		return err
	}
	return cmd.run(ctx, s, fs.Args())
}

func printUsage(w io.Writer, cmds map[string]*command) {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "usage: sirectl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, cmds[name].summary)
	}
}

func exactArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("%w: expected %d argument(s), got %d\n\nusage: sirectl %s", errUsage, n, len(args), usage)
	}
	if n > 0 && strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("%w: empty argument\n\nusage: sirectl %s", errUsage, usage)
	}
	return nil
}
