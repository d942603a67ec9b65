package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kotae-ai/kotae/internal/agent"
	"github.com/kotae-ai/kotae/internal/config"
	"github.com/kotae-ai/kotae/internal/errclass"
	"github.com/kotae-ai/kotae/internal/history"
	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/modelcache"
	"github.com/kotae-ai/kotae/internal/run"
	"github.com/kotae-ai/kotae/internal/telemetry"
	"github.com/kotae-ai/kotae/internal/tui"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kotae",
		Short: "Operator console for the kotae agent service",
		Long: "Kotae is a terminal console for asking natural language questions\n" +
			"against the kotae agent: streamed progress, previewed SQL, paginated\n" +
			"results, and a local run history.",
		Version:      version,
		SilenceUsage: true,
		RunE:         runTUI,
	}

	rootCmd.AddCommand(newAskCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newDoctorCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads .env and configuration for the one-shot commands,
// which log to stderr so stdout stays clean for output.
func bootstrap() (config.Config, *slog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	if level == "debug" {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newAgentClient(cfg config.Config) (*agent.Client, error) {
	return agent.NewClient(agent.Config{
		BaseURL:  cfg.AgentURL,
		TenantID: cfg.TenantID,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.RequestTimeout,
	})
}

func historyPath(cfg config.Config) (string, error) {
	if cfg.HistoryPath != "" {
		return cfg.HistoryPath, nil
	}
	return history.DefaultPath()
}

// ---------------------------------------------------------------------------
// Console (default command)
// ---------------------------------------------------------------------------

func runTUI(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	histPath, err := historyPath(cfg)
	if err != nil {
		return err
	}

	// The console owns the terminal, so logs go to a file beside the
	// history database.
	logW, closeLog := openLogFile(filepath.Join(filepath.Dir(histPath), "kotae.log"))
	defer closeLog()
	logger := newLogger(logW, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	client, err := newAgentClient(cfg)
	if err != nil {
		return err
	}

	store, err := history.Open(histPath)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := run.NewHub()
	orch := run.New(client, hub, logger, run.Options{StreamTimeout: cfg.StreamTimeout})

	recorder := history.NewRecorder(store, logger)
	recorderCh := hub.Subscribe()
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		recorder.Run(ctx, recorderCh)
	}()

	uiCh := hub.Subscribe()
	defer hub.Unsubscribe(uiCh)

	logger.Info("kotae starting", "version", version, "agent", cfg.AgentURL, "tenant", cfg.TenantID)

	p := tea.NewProgram(tui.New(orch, uiCh, cfg.TenantID),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, runErr := p.Run()

	orch.Cancel()
	hub.Unsubscribe(recorderCh)
	<-recorderDone

	logger.Info("kotae stopped")
	return runErr
}

// openLogFile opens the console log for appending. Failures degrade to a
// discarded log rather than writing over the live terminal.
func openLogFile(path string) (io.Writer, func()) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return io.Discard, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return io.Discard, func() {}
	}
	return f, func() { _ = f.Close() }
}

// ---------------------------------------------------------------------------
// ask
// ---------------------------------------------------------------------------

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := bootstrap()
			if err != nil {
				return err
			}
			sqlOnly, _ := cmd.Flags().GetBool("sql-only")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			client, err := newAgentClient(cfg)
			if err != nil {
				return err
			}

			req := model.AgentRequest{
				Question: args[0],
				ThreadID: uuid.NewString(),
			}

			var res *model.AgentResult
			if sqlOnly {
				res, err = client.GenerateSQL(ctx, req)
			} else {
				res, err = client.Run(ctx, req)
			}
			if err != nil {
				card := errclass.Classify(err)
				return fmt.Errorf("%s: %s", card.Category, card.Message)
			}

			return printResult(os.Stdout, res, asJSON)
		},
	}
	cmd.Flags().Bool("sql-only", false, "Generate SQL without executing it")
	cmd.Flags().Bool("json", false, "Print the raw result as JSON")
	return cmd
}

func printResult(w io.Writer, res *model.AgentResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.Response != "" {
		fmt.Fprintln(w, res.Response)
	}
	if sql := res.GeneratedSQL(); sql != "" {
		fmt.Fprintf(w, "\n%s\n", sql)
	}
	qr, err := model.ParseResultData(res.ResultData())
	if err != nil || qr == nil {
		return nil
	}
	if len(qr.Rows) > 0 {
		fmt.Fprintln(w)
		printRows(w, qr.Rows)
	} else if qr.Scalar != nil {
		fmt.Fprintf(w, "\n%v\n", qr.Scalar)
	}
	if cc := res.Completeness; cc != nil && cc.HasMore() {
		fmt.Fprintf(w, "\n(%d rows shown; more available, use the console to page through)\n", len(qr.Rows))
	}
	return nil
}

func printRows(w io.Writer, rows []model.Row) {
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		for i, c := range cols {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprintf(tw, "%v", row[c])
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded by the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := bootstrap()
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			purge, _ := cmd.Flags().GetBool("purge")
			if limit <= 0 {
				limit = cfg.HistoryLimit
			}

			path, err := historyPath(cfg)
			if err != nil {
				return err
			}
			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			if purge {
				n, err := store.Count(cmd.Context())
				if err != nil {
					return err
				}
				if err := store.Purge(cmd.Context()); err != nil {
					return err
				}
				fmt.Printf("Purged %d runs\n", n)
				return nil
			}

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tSTATUS\tQUESTION\tROWS\tTOOK")
			for _, e := range entries {
				status := e.Status
				if e.ErrorCategory != "" {
					status += " (" + e.ErrorCategory + ")"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04"),
					status,
					truncate(e.Question, 60),
					e.RowCount,
					e.Duration.Round(time.Millisecond),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 0, "Maximum entries to show (default from config)")
	cmd.Flags().Bool("purge", false, "Delete all recorded runs")
	return cmd
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// ---------------------------------------------------------------------------
// models
// ---------------------------------------------------------------------------

func newModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models available to the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := bootstrap()
			if err != nil {
				return err
			}
			provider, _ := cmd.Flags().GetString("provider")

			client, err := newAgentClient(cfg)
			if err != nil {
				return err
			}

			catalog := modelcache.New(client)
			models, err := catalog.Get(cmd.Context(), provider)
			if err != nil {
				card := errclass.Classify(err)
				return fmt.Errorf("%s: %s", card.Category, card.Message)
			}
			if len(models) == 0 {
				fmt.Printf("No models available for provider %q.\n", provider)
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROVIDER\tNAME\t")
			for _, m := range models {
				name := m.DisplayName
				if m.Default {
					name += " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t\n", m.ID, m.Provider, name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("provider", "openai", "Model provider to list")
	return cmd
}

// ---------------------------------------------------------------------------
// doctor
// ---------------------------------------------------------------------------

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, history storage, and agent connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			ctx := cmd.Context()
			failed := false

			cfg, err := config.Load()
			if err != nil {
				fmt.Printf("config:   FAIL  %v\n", err)
				return fmt.Errorf("configuration invalid")
			}
			fmt.Printf("config:   ok    agent=%s tenant=%s\n", cfg.AgentURL, cfg.TenantID)

			if cfg.APIKey == "" {
				fmt.Println("api key:  MISSING  set KOTAE_API_KEY")
				failed = true
			} else {
				fmt.Println("api key:  ok")
			}

			path, err := historyPath(cfg)
			if err == nil {
				var store *history.Store
				if store, err = history.Open(path); err == nil {
					n, countErr := store.Count(ctx)
					_ = store.Close()
					if countErr == nil {
						fmt.Printf("history:  ok    %d runs at %s\n", n, path)
					} else {
						err = countErr
					}
				}
			}
			if err != nil {
				fmt.Printf("history:  FAIL  %v\n", err)
				failed = true
			}

			if health, err := fetchHealth(ctx, cfg.AgentURL); err != nil {
				fmt.Printf("agent:    FAIL  %v\n", err)
				failed = true
			} else {
				fmt.Printf("agent:    ok    status=%s version=%s\n", health.Status, health.Version)
			}

			if cfg.APIKey != "" {
				client, err := newAgentClient(cfg)
				if err == nil {
					_, err = client.Models(ctx, "openai")
				}
				if err != nil {
					card := errclass.Classify(err)
					fmt.Printf("auth:     FAIL  %s: %s\n", card.Category, card.Message)
					failed = true
				} else {
					fmt.Println("auth:     ok")
				}
			}

			if failed {
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}
}

// fetchHealth pings the unauthenticated health endpoint directly, so
// doctor can report connectivity even before an API key is configured.
func fetchHealth(ctx context.Context, baseURL string) (*agent.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %d", resp.StatusCode)
	}
	var health agent.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &health, nil
}
