package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/chai-tokenizer/catalog"
	"github.com/sweetpotato0/chai-tokenizer/engine"
	"github.com/sweetpotato0/chai-tokenizer/export"
	"github.com/sweetpotato0/chai-tokenizer/pkg/metrics"
	"github.com/sweetpotato0/chai-tokenizer/session"
)

const liveHelp = `Each line replaces the input. Commands:
  :model <id>           switch model
  :mode encode|decode   switch mode
  :display badges|numbered
  :indices on|off       index prefixes on badges
  :copy                 copy ids (or decoded text) to the clipboard
  :stats                print token counts
  :models               list models
  :quit                 exit`

func newLiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Interactive tokenizer: results follow your input as you type lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			mode, err := engine.ParseMode(cfg.Engine.Mode)
			if err != nil {
				return err
			}
			display, err := engine.ParseDisplayMode(cfg.Engine.Display)
			if err != nil {
				return err
			}

			m := metrics.NewCollector("chai")
			provider, cleanup, err := buildProvider(cmd.Context(), cfg, m)
			if err != nil {
				return err
			}
			defer cleanup()

			out := &syncWriter{w: cmd.OutOrStdout()}
			sess := session.New(provider,
				session.WithModel(cfg.Engine.DefaultModel),
				session.WithMode(mode),
				session.WithDisplay(display),
				session.WithDebounce(cfg.Engine.Debounce),
				session.WithCopiedFor(cfg.Engine.CopiedFor),
				session.WithClipboard(clipboardWriter),
				session.WithMetrics(m),
				session.WithListener(newRenderer(out)),
			)
			defer sess.Close()

			_, _ = fmt.Fprintln(out, liveHelp)
			return runLive(cmd.Context(), cmd.InOrStdin(), out, sess)
		},
	}
}

// runLive feeds lines from in into sess until EOF or :quit.
func runLive(ctx context.Context, in io.Reader, out io.Writer, sess *session.Session) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, ":") {
			if err := sess.SetInput(line); err != nil {
				return err
			}
			continue
		}

		name, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
		arg = strings.TrimSpace(arg)
		quit, err := runLiveCommand(ctx, out, sess, name, arg)
		if err != nil {
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	sess.Flush()
	return nil
}

func runLiveCommand(ctx context.Context, out io.Writer, sess *session.Session, name, arg string) (bool, error) {
	switch name {
	case "q", "quit", "exit":
		return true, nil

	case "help", "h":
		_, _ = fmt.Fprintln(out, liveHelp)

	case "model":
		if arg == "" {
			return false, fmt.Errorf("usage: :model <id>")
		}
		return false, sess.SetModel(arg)

	case "models":
		for _, m := range catalog.Models() {
			_, _ = fmt.Fprintf(out, "  %-14s %s\n", m.Value, m.Label)
		}

	case "mode":
		mode, err := engine.ParseMode(arg)
		if err != nil {
			return false, err
		}
		return false, sess.SetMode(mode)

	case "display":
		display, err := engine.ParseDisplayMode(arg)
		if err != nil {
			return false, err
		}
		return false, sess.SetDisplay(display)

	case "indices":
		switch strings.ToLower(arg) {
		case "on", "true", "1":
			return false, sess.SetShowIndices(true)
		case "off", "false", "0":
			return false, sess.SetShowIndices(false)
		}
		return false, fmt.Errorf("usage: :indices on|off")

	case "copy":
		sess.Flush()
		if !sess.CanCopy() {
			_, _ = fmt.Fprintln(out, "nothing to copy")
			return false, nil
		}
		if !sess.Copy(ctx) {
			return false, fmt.Errorf("copy failed")
		}

	case "stats":
		sess.Flush()
		r := sess.Result()
		_, _ = fmt.Fprintf(out, "tokens: %d unique: %d\n", r.Count(), r.Unique())

	default:
		return false, fmt.Errorf("unknown command :%s (try :help)", name)
	}
	return false, nil
}

// newRenderer prints the result set whenever it can have changed and a
// short notice when only the copied indicator flips.
func newRenderer(out io.Writer) session.Listener {
	var prev *session.Snapshot
	return func(snap session.Snapshot) {
		if prev != nil && prev.State == snap.State && prev.Copied != snap.Copied {
			if snap.Copied {
				_, _ = fmt.Fprintln(out, "Copied!")
			}
			prev = &snap
			return
		}
		prev = &snap
		_, _ = fmt.Fprint(out, render(snap))
	}
}

func render(snap session.Snapshot) string {
	var sb strings.Builder
	r := snap.Result
	fmt.Fprintf(&sb, "[%s · %s] ", snap.State.Model, snap.State.Mode)
	if r.Empty() {
		sb.WriteString("no tokens\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "tokens: %d unique: %d", r.Count(), r.Unique())
	if r.Degraded {
		sb.WriteString(" (approximate)")
	}
	sb.WriteByte('\n')
	sb.WriteString(export.Annotated(r, snap.State.Display, snap.State.ShowIndices))
	sb.WriteByte('\n')
	return sb.String()
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
