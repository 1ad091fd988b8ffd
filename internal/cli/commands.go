package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
	chatService "github.com/zhouzirui/polymind/backend/internal/service/chat"
	"github.com/zhouzirui/polymind/backend/internal/service/dispatch"
	"github.com/zhouzirui/polymind/backend/internal/service/timeline"
)

func newAskCommand(e *env) *cobra.Command {
	var (
		models    []string
		user      string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send a message to several models and print every answer",
		Long: `Send a message to several models concurrently and print the answers in
the order the models were given. A failing model never hides the others.

Examples:
  compare ask "Explain CRDTs in two sentences"
  compare ask "Hello" -m openai/gpt-4o -m anthropic/claude-sonnet-4
  compare ask "Follow up" --user alice --session 3f2a...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			persist := user != ""
			if err := e.init(cmd.Context(), cmd.ErrOrStderr(), true, persist); err != nil {
				return err
			}
			if len(models) == 0 {
				models = e.models.DefaultSelection()
			}
			message := strings.Join(args, " ")
			return runAsk(cmd, e, message, models, chat.SessionContext{UserID: user, SessionID: sessionID})
		},
	}
	cmd.Flags().StringSliceVarP(&models, "model", "m", nil, "model identifiers (default: catalog default selection)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "save the round for this user")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing session (requires --user)")
	return cmd
}

func runAsk(cmd *cobra.Command, e *env, message string, models []string, sc chat.SessionContext) error {
	if sc.SessionID != "" && !sc.Authenticated() {
		return fmt.Errorf("--session requires --user")
	}
	out := cmd.OutOrStdout()
	progress := cmd.ErrOrStderr()

	coordinator := dispatch.NewCoordinator(e.gen, e.logger)
	svc := chatService.NewService(e.store, coordinator, e.logger)

	var mu sync.Mutex
	settled := 0
	hooks := &chatService.RoundHooks{
		OnResult: func(_ int, r chat.GenerationResult) {
			mu.Lock()
			defer mu.Unlock()
			settled++
			mark := "ok"
			if !r.Succeeded {
				mark = "failed"
			}
			fmt.Fprintf(progress, "[%d/%d] %s %s\n", settled, len(models), r.ModelID, mark)
		},
	}

	round, err := svc.SendMessage(cmd.Context(), sc, message, models, hooks)
	if err != nil {
		return err
	}

	for _, r := range round.Results {
		printResult(out, r)
	}
	if round.Context.SessionID != "" {
		status := "saved"
		if !round.Persisted {
			status = "not fully saved"
		}
		fmt.Fprintf(out, "session %s (%s)\n", round.Context.SessionID, status)
	}
	return nil
}

func printResult(w io.Writer, r chat.GenerationResult) {
	fmt.Fprintf(w, "== %s ==\n", r.ModelID)
	if r.Succeeded {
		fmt.Fprintln(w, strings.TrimRight(r.Content, "\n"))
	} else {
		fmt.Fprintf(w, "error: %s\n", r.Error)
	}
	fmt.Fprintln(w)
}

func newModelsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.init(cmd.Context(), cmd.ErrOrStderr(), false, false); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range e.models.List() {
				mark := " "
				if m.Default {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-36s %-10s %s\n", mark, m.ID, m.Provider, m.Name)
			}
			return nil
		},
	}
}

func newSessionsCommand(e *env) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.init(cmd.Context(), cmd.ErrOrStderr(), false, true); err != nil {
				return err
			}
			sessions, err := e.store.ListSessions(cmd.Context(), user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %s  %s\n", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "owner of the sessions")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newShowCommand(e *env) *cobra.Command {
	var (
		user   string
		models []string
	)
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the per-model timelines of a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.init(cmd.Context(), cmd.ErrOrStderr(), false, true); err != nil {
				return err
			}
			session, err := e.store.GetSessionWithMessages(cmd.Context(), user, args[0])
			if err != nil {
				return err
			}
			if len(models) == 0 {
				models = answeringModels(session.Messages)
			}

			view := timeline.New(nil)
			view.Build(models, session.Messages)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\n", session.Title)
			for _, pane := range view.Panes() {
				fmt.Fprintf(out, "== %s ==\n", pane.ModelID)
				for _, entry := range pane.Entries {
					who := "assistant"
					if entry.IsUser {
						who = "you"
					}
					fmt.Fprintf(out, "%s: %s\n", who, entry.Content)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "owner of the session")
	cmd.Flags().StringSliceVarP(&models, "model", "m", nil, "models to show (default: every model that answered)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// answeringModels lists the models with at least one answer, in first-answer order.
func answeringModels(messages []chat.Message) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range messages {
		if m.IsUser || seen[m.ModelID] {
			continue
		}
		seen[m.ModelID] = true
		ids = append(ids, m.ModelID)
	}
	return ids
}
