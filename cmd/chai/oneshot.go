package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/chai-tokenizer/clipboard"
	"github.com/sweetpotato0/chai-tokenizer/engine"
	"github.com/sweetpotato0/chai-tokenizer/export"
	"github.com/sweetpotato0/chai-tokenizer/pkg/metrics"
	"github.com/sweetpotato0/chai-tokenizer/session"
)

type oneShotFlags struct {
	model     string
	display   string
	indices   bool
	annotated bool
	copy      bool
	stats     bool
}

// clipboardWriter is replaced in tests.
var clipboardWriter clipboard.Writer = clipboard.System{}

func newEncodeCmd() *cobra.Command {
	return newOneShotCmd(engine.Encode, "encode [text]", "Encode text into token ids")
}

func newDecodeCmd() *cobra.Command {
	return newOneShotCmd(engine.Decode, "decode [ids]", "Decode comma or space separated token ids into text")
}

func newOneShotCmd(mode engine.Mode, use, short string) *cobra.Command {
	var f oneShotFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  short + ". Without arguments the input is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			input := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				input = strings.TrimRight(string(b), "\r\n")
			}

			model := f.model
			if model == "" {
				model = cfg.Engine.DefaultModel
			}
			displayName := f.display
			if displayName == "" {
				displayName = cfg.Engine.Display
			}
			display, err := engine.ParseDisplayMode(displayName)
			if err != nil {
				return err
			}

			m := metrics.NewCollector("chai")
			provider, cleanup, err := buildProvider(cmd.Context(), cfg, m)
			if err != nil {
				return err
			}
			defer cleanup()

			sess := session.New(provider,
				session.WithModel(model),
				session.WithMode(mode),
				session.WithDisplay(display),
				session.WithClipboard(clipboardWriter),
				session.WithMetrics(m),
			)
			defer sess.Close()

			if err := sess.SetShowIndices(f.indices); err != nil {
				return err
			}
			if err := sess.SetInput(input); err != nil {
				return err
			}
			sess.Flush()
			snap := sess.Snapshot()

			out := cmd.OutOrStdout()
			text := export.Format(snap.Result, display)
			if f.annotated {
				text = export.Annotated(snap.Result, display, snap.State.ShowIndices)
			}
			if text != "" {
				_, _ = fmt.Fprintln(out, text)
			}
			if snap.Result.Degraded {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "note: %s has no exact tokenizer; whitespace approximation shown\n", model)
			}
			if f.stats {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "tokens: %d unique: %d\n", snap.Result.Count(), snap.Result.Unique())
			}
			if f.copy {
				if sess.Copy(cmd.Context()) {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Copied!")
				} else if snap.CanCopy {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "copy failed; see log")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.model, "model", "", "Model id (default from engine.default_model)")
	cmd.Flags().StringVar(&f.display, "display", "", "badges or numbered (default from engine.display)")
	cmd.Flags().BoolVar(&f.indices, "indices", false, "Prefix badges with their position (with --annotated)")
	cmd.Flags().BoolVar(&f.annotated, "annotated", false, "Print each fragment next to its id")
	cmd.Flags().BoolVar(&f.copy, "copy", false, "Copy the ids (or decoded text) to the clipboard")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "Print total and unique token counts to stderr")

	return cmd
}
