package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sandevgo/memgate/internal/config"
	"github.com/sandevgo/memgate/internal/core"
	"github.com/sandevgo/memgate/internal/service/memory"
	"github.com/sandevgo/memgate/pkg/log"
)

const defaultThreadID = "cli-local"

// ReadLine is an interactive console for exercising the memory gate: a
// plain line runs a full turn (context retrieval then ingestion), slash
// commands poke the individual operations.
type ReadLine struct {
	cfg  *config.AppConfig
	gate *memory.Gate
	rl   *readline.Instance
}

func NewReadLine(gate *memory.Gate, cfg *config.AppConfig) (*ReadLine, error) {
	// Ensure runtime directory exists
	if err := os.MkdirAll(cfg.RuntimePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">>> ",
		HistoryFile:     filepath.Join(cfg.RuntimePath, "input_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}

	return &ReadLine{
		cfg:  cfg,
		gate: gate,
		rl:   rl,
	}, nil
}

func (r *ReadLine) Start(ctx context.Context) error {
	logger := log.FromCtx(ctx)
	logger.Info().Msg("memory console started. Type 'exit' to quit, '/help' for commands.")

	for {
		// A cancelled context means the process is shutting down, which is
		// a normal way for the console to end.
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := r.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					return nil // Exit on Ctrl+C
				}
				continue
			} else if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "exit" {
			return nil
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			r.runCommand(ctx, line)
			continue
		}

		r.runTurn(ctx, line)
	}
}

// runTurn plays both sides of a conversation turn: retrieve the context
// the agent would see, echo it, then ingest the turn.
func (r *ReadLine) runTurn(ctx context.Context, userText string) {
	out := r.rl.Stdout()

	memCtx, err := r.gate.GetContext(ctx, defaultThreadID, userText)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.printContext(out, memCtx)

	agentText := fmt.Sprintf("acknowledged: %s", userText)
	if err := r.gate.Process(ctx, defaultThreadID, userText, agentText); err != nil {
		log.FromCtx(ctx).Error().Err(err).Msg("turn ingestion failed")
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}

func (r *ReadLine) runCommand(ctx context.Context, line string) {
	out := r.rl.Stdout()
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/help":
		fmt.Fprint(out, `/context <query>          show retrieval for a query without recording a turn
/remember <text>          store a fact verbatim
/forget <id>              tombstone an item
/audit                    list every item including tombstones
/skill <id> <description> register a routable skill
`)

	case "/context":
		if rest == "" {
			fmt.Fprintln(out, "usage: /context <query>")
			return
		}
		memCtx, err := r.gate.GetContext(ctx, defaultThreadID, rest)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		r.printContext(out, memCtx)

	case "/remember":
		if rest == "" {
			fmt.Fprintln(out, "usage: /remember <text>")
			return
		}
		// Dictated facts carry full confidence.
		id, err := r.gate.Remember(ctx, rest, core.KindFact, 1.0)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(out, "remembered as %s\n", id)

	case "/forget":
		if rest == "" {
			fmt.Fprintln(out, "usage: /forget <id>")
			return
		}
		if err := r.gate.Forget(ctx, rest); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(out, "forgot %s\n", rest)

	case "/audit":
		items, err := r.gate.Audit(ctx)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		if len(items) == 0 {
			fmt.Fprintln(out, "no items")
			return
		}
		for _, it := range items {
			fmt.Fprintf(out, "%s  [%s/%s/%s]  %.2f  %s\n",
				it.ID, it.Kind, it.Status, it.IndexState, it.Confidence, it.Text)
		}

	case "/skill":
		skillID, desc, _ := strings.Cut(rest, " ")
		desc = strings.TrimSpace(desc)
		if skillID == "" || desc == "" {
			fmt.Fprintln(out, "usage: /skill <id> <description>")
			return
		}
		if err := r.gate.RegisterSkill(ctx, skillID, desc); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(out, "registered skill %s\n", skillID)

	default:
		fmt.Fprintf(out, "unknown command %s, try /help\n", cmd)
	}
}

func (r *ReadLine) printContext(out io.Writer, memCtx core.Context) {
	if len(memCtx.History) > 0 {
		fmt.Fprintf(out, "\033[38;5;240m[History]\n")
		for _, e := range memCtx.History {
			fmt.Fprintf(out, "  %s: %s\n", e.Role, e.Text)
		}
		fmt.Fprint(out, "\033[0m")
	}
	if len(memCtx.Facts) > 0 {
		fmt.Fprintln(out, "[Facts]")
		for _, f := range memCtx.Facts {
			fmt.Fprintf(out, "  %.4f  %s  (%s)\n", f.Score, f.Item.Text, f.Item.ID)
		}
	}
	if memCtx.Skill != nil {
		fmt.Fprintf(out, "[Skill] %s (%.2f)\n", memCtx.Skill.SkillID, memCtx.Skill.Similarity)
	}
	if len(memCtx.History) == 0 && len(memCtx.Facts) == 0 && memCtx.Skill == nil {
		fmt.Fprintln(out, "(empty context)")
	}
}

func (r *ReadLine) Shutdown(ctx context.Context) error {
	if r.rl != nil {
		return r.rl.Close()
	}
	return nil
}
