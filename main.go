package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/feishu-cli/feishu-cli/oidc"
	"github.com/feishu-cli/feishu-cli/tui"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `feishu-cli: Feishu Open Platform command line client

Usage:
  feishu-cli auth login-url       Print the OIDC authorization URL
  feishu-cli auth login           Log in through the browser and store the session
  feishu-cli auth exchange-code   Exchange an authorization code and store the session
  feishu-cli auth refresh         Refresh the stored session
  feishu-cli auth whoami          Show the current user
  feishu-cli auth status          Show the stored session without refreshing it
  feishu-cli auth logout          Remove the stored session
  feishu-cli api METHOD PATH      Call an Open API endpoint

Global flags:
  --base-url     Open Platform URL (default https://open.feishu.cn or FEISHU_BASE_URL)
  --token-file   Session file (default ~/.config/feishu-cli/user_token.json or FEISHU_TOKEN_FILE)
  --log-level    debug, info, warn or error (default warn or FEISHU_LOG_LEVEL)
`

// app holds the process-level I/O so commands can be exercised in tests.
type app struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	// interactive reports whether stderr is a terminal; the TUI renders there.
	interactive bool

	openBrowser func(string) error
	logger      *slog.Logger
}

func newApp() *app {
	return &app{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		stdin:       os.Stdin,
		interactive: isTTY(),
		openBrowser: oidc.OpenBrowser,
		logger:      slog.Default(),
	}
}

// isTTY reports whether stderr is an interactive terminal.
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newApp().run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run dispatches args to a command and returns the process exit code.
func (a *app) run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(a.stderr, usage)
		if len(args) == 0 {
			return exitUsage
		}
		return exitOK
	}

	var cmd func(context.Context, []string) error
	switch args[0] {
	case "auth":
		if len(args) < 2 {
			fmt.Fprint(a.stderr, usage)
			return exitUsage
		}
		switch args[1] {
		case "login-url":
			cmd = a.cmdLoginURL
		case "login":
			cmd = a.cmdLogin
		case "exchange-code":
			cmd = a.cmdExchangeCode
		case "refresh":
			cmd = a.cmdRefresh
		case "whoami":
			cmd = a.cmdWhoami
		case "status":
			cmd = a.cmdStatus
		case "logout":
			cmd = a.cmdLogout
		default:
			fmt.Fprintf(a.stderr, "unknown auth command %q\n\n%s", args[1], usage)
			return exitUsage
		}
		args = args[2:]
	case "api":
		cmd = a.cmdAPI
		args = args[1:]
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitUsage
	}

	if err := cmd(ctx, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return a.fail(err)
	}
	return exitOK
}

// withDisplay runs fn with a progress display on stderr: a BubbleTea program
// on terminals, plain text otherwise.
func (a *app) withDisplay(fn func(tui.Displayer) error) error {
	if !a.interactive {
		d := tui.NewPlainDisplayer(a.stderr)
		d.Banner()
		err := fn(d)
		if err != nil {
			d.Fatal(err)
		}
		return err
	}

	// Run TUI program on stderr so stdout pipes are not corrupted
	m := tui.NewModel()
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(m, tea.WithOutput(a.stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(a.stderr, "TUI error: %v\n", err)
		}
	}()

	d := tui.NewProgramDisplayer(p)
	d.Banner()
	err := fn(d)
	if err != nil {
		d.Fatal(err)
	}
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	return err
}
