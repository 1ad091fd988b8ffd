// Package cli provides the compare command-line interface: send one prompt
// to several models and read the answers side by side.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/polymind/backend/internal/config"
	"github.com/zhouzirui/polymind/backend/internal/model/catalog"
	"github.com/zhouzirui/polymind/backend/internal/service/ai"
	catalogService "github.com/zhouzirui/polymind/backend/internal/service/catalog"
	chatService "github.com/zhouzirui/polymind/backend/internal/service/chat"
	"github.com/zhouzirui/polymind/backend/internal/service/dispatch"
)

// Version is set at build time.
var Version = "0.1.0"

// env holds the lazily built dependencies of a command run. Fields that are
// already set are left alone, which lets tests inject fakes.
type env struct {
	verbose bool

	logger *slog.Logger
	models catalog.Store
	gen    dispatch.Generator
	store  chatService.Store
}

// init resolves what a command needs. Gateway credentials are only
// required when the command generates replies.
func (e *env) init(ctx context.Context, stderr io.Writer, needGen, needStore bool) error {
	if e.models != nil && (e.gen != nil || !needGen) && (e.store != nil || !needStore) {
		return nil
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if e.logger == nil {
		level := slog.LevelWarn
		if e.verbose {
			level = slog.LevelDebug
		}
		e.logger = config.SetupLoggerWithWriters(stderr, nil, level)
	}
	if e.models == nil {
		if e.models, err = catalogService.Load(ctx, cfg.Catalog, cfg.Gateway, e.logger); err != nil {
			return err
		}
	}
	if e.gen == nil && needGen {
		if !cfg.Gateway.Enabled() {
			return fmt.Errorf("%s credentials are not configured", cfg.Gateway.Provider)
		}
		e.gen = ai.NewGateway(cfg.Gateway, e.logger)
	}
	if e.store == nil && needStore {
		if e.store, err = chatService.OpenStore(cfg.Store); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
	}
	return nil
}

func (e *env) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// newRootCommand builds the command tree.
func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "compare",
		Short: "Compare answers from several language models",
		Long: `compare sends one prompt to several models at once and prints every
answer, including per-model failures, in the order the models were given.

With --user the round is saved as a conversation that the web UI can load.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newAskCommand(e))
	root.AddCommand(newModelsCommand(e))
	root.AddCommand(newSessionsCommand(e))
	root.AddCommand(newShowCommand(e))
	return root
}

// Execute runs the CLI.
func Execute() error {
	return newRootCommand(&env{}).Execute()
}
