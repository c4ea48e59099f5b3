package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"courseqa/internal/chunker"
	"courseqa/internal/config"
	"courseqa/internal/indexer"
	"courseqa/internal/prompt"
	"courseqa/internal/service"
	"courseqa/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var cfg *config.AppConfig

	rootCmd := &cobra.Command{
		Use:           "courseqa",
		Short:         "Answer questions about a recorded course from its transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init-config" {
				return nil
			}
			var err error
			cfg, err = loadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogging(os.Stderr, cfg.Log.Level)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (default ./config.yaml, then ~/.config/courseqa/config.yaml)")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cfg)
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), cfg, strings.Join(args, " "))
		},
	}

	var searchK int
	searchCmd := &cobra.Command{
		Use:   "search QUESTION",
		Short: "Print the most similar transcript segments without composing an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), cfg, strings.Join(args, " "), searchK)
		},
	}
	searchCmd.Flags().IntVarP(&searchK, "k", "k", 0, "Number of segments (default retrieval.top_k)")

	indexCmd := &cobra.Command{
		Use:   "index FILE.srt [FILE.srt ...]",
		Short: "Build the embedding table from subtitle files, replacing the stored corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cfg, args)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init-config [PATH]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	rootCmd.AddCommand(chatCmd, askCmd, searchCmd, indexCmd, initCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setupLogging(w io.Writer, level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})))
}

func runChat(ctx context.Context, cfg *config.AppConfig) error {
	// The terminal belongs to the UI; logs go to a file.
	if cfg.Log.File != "" {
		f, err := tea.LogToFile(cfg.Log.File, "courseqa")
		if err != nil {
			return err
		}
		defer f.Close()
		setupLogging(f, cfg.Log.Level)
	} else {
		setupLogging(io.Discard, cfg.Log.Level)
	}

	svc, err := buildAssistant(ctx, cfg, true)
	if err != nil {
		return err
	}
	timeout := time.Duration(cfg.Chat.QueryTimeoutSecs) * time.Second
	m := tui.New(svc, cfg.Course.Name, timeout)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func runAsk(ctx context.Context, out io.Writer, cfg *config.AppConfig, question string) error {
	svc, err := buildAssistant(ctx, cfg, true)
	if err != nil {
		return err
	}
	ans, err := svc.Ask(ctx, question)
	if err != nil {
		fmt.Fprintln(out, service.UserMessage(err))
		return nil
	}
	fmt.Fprintln(out, ans.Text)
	fmt.Fprintln(out)
	fmt.Fprintln(out, tui.FormatSources(ans.Sources))
	return nil
}

func runSearch(ctx context.Context, out io.Writer, cfg *config.AppConfig, question string, k int) error {
	svc, err := buildAssistant(ctx, cfg, false)
	if err != nil {
		return err
	}
	if k <= 0 {
		k = cfg.Retrieval.TopK
	}
	results, err := svc.Search(ctx, question, k)
	if err != nil {
		fmt.Fprintln(out, service.UserMessage(err))
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. score=%.4f  #%d %s  %s-%s\n   %s\n", i+1, r.Score,
			r.Segment.Number, r.Segment.Title,
			prompt.FormatTimestamp(r.Segment.Start), prompt.FormatTimestamp(r.Segment.End),
			r.Segment.Text)
	}
	return nil
}

func runIndex(ctx context.Context, cfg *config.AppConfig, paths []string) error {
	emb, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("embedder init failed: %w", err)
	}
	ch := chunker.NewCueChunker(cfg.Indexer.CuesPerSegment, cfg.Indexer.OverlapCues)
	b := indexer.NewBuilder(ch, emb, cfg.Embedder.BatchSize, cfg.Indexer.Concurrency)
	c, err := b.Build(ctx, paths)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Save(ctx, c); err != nil {
		return fmt.Errorf("save corpus: %w", err)
	}
	slog.Info("corpus saved", "type", cfg.Corpus.Type, "segments", c.Len(), "dimension", c.Dimension(), "model", c.Model())
	return nil
}
