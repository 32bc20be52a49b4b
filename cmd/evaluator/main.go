package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/evaluator/internal/docs"
	"github.com/pavelanni/evaluator/internal/evaluate"
	"github.com/pavelanni/evaluator/internal/handler"
	appI18n "github.com/pavelanni/evaluator/internal/i18n"
	"github.com/pavelanni/evaluator/internal/llm"
	"github.com/pavelanni/evaluator/internal/llm/prompts"
	"github.com/pavelanni/evaluator/internal/model"
	"github.com/pavelanni/evaluator/internal/report"
	"github.com/pavelanni/evaluator/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "evaluator",
		Short: "Grade exam answers against an answer key with an LLM",
	}

	grade := gradeCmd()
	root.AddCommand(grade, serveCmd(), exportCmd())

	// Make "grade" the default when no subcommand is given.
	root.RunE = grade.RunE
	root.Args = grade.Args

	// Register grade flags on root so bare `evaluator answer.txt students.txt` works.
	root.Flags().AddFlagSet(grade.Flags())

	return root
}

// llmFlags registers the grading client and evaluation flags shared by
// grade and serve.
func llmFlags(f *pflag.FlagSet) {
	f.String("llm-url", "https://api.groq.com/openai/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for LLM (or set EVALUATOR_LLM_KEY / GROQ_API_KEY)")
	f.String("llm-model", "llama-3.1-8b-instant", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStrict), "Grading prompt variant (strict, standard, lenient)")
	f.Int("roster-size", model.DefaultRosterSize, "Number of students in each submissions document")
	f.Int("concurrency", 4, "Grading calls in flight (1 = sequential)")
	f.Bool("clamp-marks", true, "Clamp awarded marks to [0, max marks]")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
	f.String("env-file", ".env", "Dotenv file loaded before reading the environment")
	logFlags(f)
}

func logFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade [answer-key-file students-file]",
		Short: "Grade a student submissions document and print the report",
		Args:  cobra.ArbitraryArgs,
		RunE:  runGrade,
	}
	f := cmd.Flags()
	llmFlags(f)
	f.String("answer-key", "", "Answer key document (name must contain \"answer\")")
	f.String("students", "", "Student submissions document (name must contain \"student\")")
	f.String("db", "", "SQLite database to archive the run in (empty = do not archive)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.StringP("format", "f", "text", "Output format (text, json)")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP evaluation API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	llmFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "", "SQLite database for the run archive (empty = archive disabled)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived evaluation runs as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "evaluator.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	logFlags(f)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// loadEnvFile loads the dotenv file named by --env-file. Variables already
// set in the environment win; a missing file is not an error.
func loadEnvFile(cmd *cobra.Command) error {
	f := cmd.Flags().Lookup("env-file")
	if f == nil || f.Value.String() == "" {
		return nil
	}
	err := godotenv.Load(f.Value.String())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", f.Value.String(), err)
	}
	if err == nil {
		slog.Debug("loaded env file", "path", f.Value.String())
	}
	return nil
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EVALUATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm-key", "EVALUATOR_LLM_KEY", "GROQ_API_KEY")

	v.SetConfigName("evaluator")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/evaluator")
	v.AddConfigPath("/etc/evaluator")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// newEvaluator builds the grading client and the orchestrator from v.
// A missing credential is reported before anything else is done.
func newEvaluator(v *viper.Viper) (*llm.Client, *evaluate.Evaluator, error) {
	client, err := llm.New(llm.Config{
		BaseURL: v.GetString("llm-url"),
		APIKey:  v.GetString("llm-key"),
		Model:   v.GetString("llm-model"),
		Variant: prompts.PromptVariant(strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))),
	})
	if err != nil {
		return nil, nil, err
	}

	rosterSize := v.GetInt("roster-size")
	if rosterSize < 1 {
		return nil, nil, fmt.Errorf("%w: roster-size must be at least 1, got %d", model.ErrConfiguration, rosterSize)
	}
	ev := evaluate.New(client, evaluate.Options{
		Roster:      model.NewRoster(rosterSize),
		Concurrency: v.GetInt("concurrency"),
		ClampMarks:  v.GetBool("clamp-marks"),
		Logger:      slog.Default(),
	})
	return client, ev, nil
}

func runGrade(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	if err := loadEnvFile(cmd); err != nil {
		return err
	}
	v := viperForCmd(cmd)

	format := strings.ToLower(v.GetString("format"))
	if format != "text" && format != "json" {
		return fmt.Errorf("%w: unknown format %q", model.ErrConfiguration, format)
	}

	client, ev, err := newEvaluator(v)
	if err != nil {
		return err
	}

	paths := append([]string{}, args...)
	for _, key := range []string{"answer-key", "students"} {
		if p := v.GetString(key); p != "" {
			paths = append(paths, p)
		}
	}
	documents, err := docs.ReadFiles(paths)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	out, runErr := ev.RunDocuments(ctx, documents)
	if runErr != nil && errors.Is(runErr, model.ErrConfiguration) {
		return runErr
	}

	meta := model.RunMeta{
		Model:         client.Model(),
		PromptVariant: string(client.Variant()),
		AnswerKeyName: out.Documents.AnswerKey.Name,
		StudentsName:  out.Documents.Students.Name,
	}
	created := time.Now()
	export := report.Export(out.Evaluation, meta, out.Diagnostics, created)
	slog.Info("evaluation finished",
		"answers", len(out.Evaluation.Results),
		"failures", out.Evaluation.Failures(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if dbPath := v.GetString("db"); dbPath != "" && runErr == nil {
		db, err := store.New(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		id, err := db.SaveRun(model.RunRecord{
			CreatedAt:   created,
			Meta:        meta,
			Evaluation:  out.Evaluation,
			Diagnostics: out.Diagnostics,
		})
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		export.RunID = id
		slog.Info("archived run", "db", dbPath, "run_id", id)
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()

	if format == "json" {
		err = writeJSON(w, export)
	} else {
		lang := v.GetString("lang")
		if err := appI18n.Init(lang); err != nil {
			return fmt.Errorf("init i18n: %w", err)
		}
		rctx := appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))
		err = report.Text(rctx, w, export)
	}
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	// A canceled run still prints what was graded before the interrupt.
	return runErr
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	if err := loadEnvFile(cmd); err != nil {
		return err
	}
	v := viperForCmd(cmd)

	client, ev, err := newEvaluator(v)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", client.Model())

	var db *store.Store
	if dbPath := v.GetString("db"); dbPath != "" {
		db, err = store.New(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		count, err := db.RunCount()
		if err != nil {
			return fmt.Errorf("count runs: %w", err)
		}
		slog.Info("run archive opened", "db", dbPath, "runs", count)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	h := handler.New(ev, db, model.RunMeta{
		Model:         client.Model(),
		PromptVariant: string(client.Variant()),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", client.Model(),
		"llm_url", v.GetString("llm-url"),
		"prompt_variant", client.Variant(),
		"roster_size", v.GetInt("roster-size"),
		"concurrency", v.GetInt("concurrency"),
		"archive", db != nil,
		"lang", lang,
	)

	srv := &http.Server{Addr: addr, Handler: r}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	records, err := db.ExportAllRuns()
	if err != nil {
		return fmt.Errorf("export runs: %w", err)
	}

	runs := make([]model.RunExport, 0, len(records))
	for _, rec := range records {
		run := report.Export(rec.Evaluation, rec.Meta, rec.Diagnostics, rec.CreatedAt)
		run.RunID = rec.ID
		runs = append(runs, run)
	}

	w, closeOut, err := openOutput(v.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()

	if err := writeJSON(w, runs); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("exported runs", "count", len(runs))
	return nil
}

// openOutput returns stdout for "" or "-" and a created file otherwise.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	// Ensure trailing newline.
	_, err = fmt.Fprintln(w)
	return err
}
