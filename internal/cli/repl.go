// Package cli runs the line-oriented session loop: one command per line,
// notifications printed after every command.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pdai-labs/pdai/internal/dispatch"
	"github.com/pdai-labs/pdai/internal/session"
	"github.com/pdai-labs/pdai/internal/theme"

	"go.uber.org/zap"
)

const (
	Prompt = ">>> "
	Title  = "Pneumonia-Detection-Ai-CLI"
)

type REPL struct {
	s      *session.Session
	in     *bufio.Scanner
	out    io.Writer
	logger *zap.Logger
}

type OptionFunc func(r *REPL)

func WithLogger(l *zap.Logger) OptionFunc {
	return func(r *REPL) {
		r.logger = l
	}
}

func New(s *session.Session, in io.Reader, out io.Writer, opts ...OptionFunc) *REPL {
	r := &REPL{
		s:      s,
		in:     bufio.NewScanner(in),
		out:    out,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads commands until exit, end of input or a fatal internal error.
// Only the last case returns an error.
func (r *REPL) Run(ctx context.Context) error {
	r.println(theme.Banner(Title))
	r.println(theme.Muted.Render("Type 'help' for the list of commands."))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, ok := r.ask(Prompt)
		if !ok {
			return nil
		}

		quit, err := r.Execute(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

// Execute runs one command line. quit is set by exit; err is only returned
// for fatal internal errors. Queued notifications are printed before it
// returns.
func (r *REPL) Execute(ctx context.Context, line string) (quit bool, err error) {
	defer r.flush()

	inv, err := dispatch.Parse(line)
	if err != nil {
		var unknown *dispatch.UnknownCommandError
		switch {
		case errors.Is(err, dispatch.ErrEmptyInput):
		case errors.As(err, &unknown):
			r.errorf("Invalid command '%s'.", unknown.Verb)
			if unknown.Suggestion != "" {
				r.println(theme.Warning.Render(fmt.Sprintf("Did you mean '%s'?", unknown.Suggestion)))
			}
		default:
			r.errorf("%v", err)
		}
		return false, nil
	}

	r.logger.Debug("command", zap.String("verb", inv.Command.String()), zap.Strings("args", inv.Args))

	if inv.Command == dispatch.CmdExit {
		r.println("Exiting...")
		return true, nil
	}

	if err := r.safeHandle(ctx, inv); err != nil {
		return false, r.internal(inv.Command, err)
	}
	return false, nil
}

// safeHandle runs the handler for inv. A panic is returned as a
// *session.PanicError so it goes through the internal error handler and the
// loop keeps reading commands.
func (r *REPL) safeHandle(ctx context.Context, inv dispatch.Invocation) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = session.NewPanicError(p)
		}
	}()
	return r.handle(ctx, inv)
}

// internal routes an unexpected handler error through the session's internal
// error handler and offers the detail in debug mode.
func (r *REPL) internal(cmd dispatch.Command, err error) error {
	ie := r.s.HandleInternal("Func[main>>"+cmd.String()+"]", err, false)
	r.flush()

	if r.s.Debug() {
		if answer, ok := r.ask(theme.Warning.Render("Do you want to see the detailed error message? [Y/n]: ")); ok && yes(answer) {
			r.println(theme.Warning.Render("detailed error message:"))
			r.println(ie.Detail())
		}
	}

	if errors.Is(ie, session.ErrFatal) {
		return ie
	}
	return nil
}

// flush prints and forgets everything queued by the last command.
func (r *REPL) flush() {
	q := r.s.Queue()
	if !q.IsDirty() {
		return
	}
	for _, item := range q.Flush() {
		r.println(theme.Muted.Render(">") + " " + item)
	}
}

func (r *REPL) ask(prompt string) (string, bool) {
	fmt.Fprint(r.out, prompt)
	if !r.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(r.in.Text()), true
}

func (r *REPL) confirm(question string) bool {
	answer, ok := r.ask(question + " [Y/n]: ")
	return ok && yes(answer)
}

func yes(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}

func (r *REPL) println(s string) {
	fmt.Fprintln(r.out, s)
}

func (r *REPL) errorf(format string, args ...any) {
	r.println(theme.Error.Render("ERROR:") + " " + fmt.Sprintf(format, args...))
}

func (r *REPL) warnf(format string, args ...any) {
	r.println(theme.Warning.Render("WARNING:") + " " + fmt.Sprintf(format, args...))
}
