package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"invoicechat/internal/config"
	"invoicechat/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string
	identity   string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "invoicechat",
	Short: "invoicechat - conversational retrieval over your invoices",
	Long: `invoicechat answers natural-language questions about a corpus of
processed invoice records: finding invoices, exact aggregate figures,
and follow-up questions that refer back to earlier answers.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Store.DatabasePath = dbPath
		}

		// The TUI owns the terminal; keep zap quiet there unless asked.
		zapCfg := zap.NewProductionConfig()
		if cfg.Logging.Format == "console" {
			zapCfg = zap.NewDevelopmentConfig()
		}
		level := zapcore.InfoLevel
		if verbose {
			level = zapcore.DebugLevel
		} else if cmd.CalledAs() == "invoicechat" || cmd.CalledAs() == "chat" {
			level = zapcore.ErrorLevel
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

// askCmd answers a single question and exits.
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question about your invoices",
	Long: `Answers one question and prints the reply. Pass --session to continue
an earlier conversation so follow-up questions resolve against it.

Example:
  invoicechat ask "What did we spend with Acme Corp last month?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// chatCmd starts the interactive TUI.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

// seedCmd loads invoice records from a JSON file.
var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Load invoice records from a JSON file into the store",
	Long: `Reads a JSON array of invoice records, embeds each one for semantic
search, and upserts them into the record store. Records are keyed by id,
so seeding the same file twice is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

// statsCmd shows store and session statistics.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record store statistics",
	RunE:  runStats,
}

var askSessionID string

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "invoicechat.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Override the database path")
	rootCmd.PersistentFlags().StringVar(&identity, "identity", "", "Caller identity for rate limiting (default: $USER)")

	askCmd.Flags().StringVar(&askSessionID, "session", "", "Session id to continue")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// callerIdentity resolves the rate-limit identity for this process.
func callerIdentity() string {
	if identity != "" {
		return identity
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.engine.Handle(ctx, types.Request{
		SessionID: askSessionID,
		Message:   strings.Join(args, " "),
		Identity:  callerIdentity(),
	})
	if err != nil {
		return err
	}

	fmt.Println(resp.Reply)
	if resp.HasMore {
		fmt.Println("(showing the first results only)")
	}
	fmt.Fprintf(os.Stderr, "session: %s\n", resp.SessionID)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	count, err := a.store.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("database:      %s\n", cfg.Store.DatabasePath)
	fmt.Printf("invoices:      %d\n", count)
	fmt.Printf("vector index:  %v\n", a.store.VectorIndexAvailable())
	fmt.Printf("live sessions: %d\n", a.sessions.Len())
	if a.embedder != nil {
		fmt.Printf("embedding:     %s\n", a.embedder.Name())
	} else {
		fmt.Printf("embedding:     disabled\n")
	}
	return nil
}
