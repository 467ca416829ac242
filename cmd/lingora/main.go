package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lingora/lingora/internal/grader"
	"github.com/lingora/lingora/internal/handler"
	"github.com/lingora/lingora/internal/model"
	"github.com/lingora/lingora/internal/realtime"
	"github.com/lingora/lingora/internal/session"
	"github.com/lingora/lingora/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lingora",
		Short: "Spoken-language practice server with realtime voice tutoring",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `lingora --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the practice session server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "lingora.db", "SQLite database path")
	f.StringSliceP("passages", "p", []string{"passages/default_en.json"}, "Paths to passage JSON files (repeatable)")
	f.String("openai-key", "", "OpenAI API key (or set LINGORA_OPENAI_KEY)")
	f.String("openai-url", "https://api.openai.com/v1", "OpenAI-compatible REST base URL")
	f.String("realtime-url", "wss://api.openai.com/v1/realtime", "Realtime WebSocket base URL")
	f.String("realtime-model", "gpt-4o-realtime-preview", "Realtime voice model name")
	f.String("grader-model", "gpt-4o", "Model used for transcript grading")
	f.String("voice", "alloy", "Tutor voice profile")
	f.Int("min-duration", 30, "Minimum connected seconds before a session may end")
	f.String("user-id", "user_demo", "Placeholder user id recorded on sessions")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graded session records as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "lingora.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
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

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LINGORA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lingora")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/lingora")
	v.AddConfigPath("/etc/lingora")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	apiKey := v.GetString("openai-key")
	if apiKey == "" {
		return fmt.Errorf("OpenAI API key is required: set --openai-key flag or LINGORA_OPENAI_KEY env var")
	}

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Load passages from all specified files.
	if err := loadPassages(db, v.GetStringSlice("passages")); err != nil {
		return fmt.Errorf("load passages: %w", err)
	}

	// Create grading client and verify the endpoint is reachable.
	gradingClient := grader.New(v.GetString("openai-url"), apiKey, v.GetString("grader-model"))
	if err := gradingClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("grading health check: %w", err)
	}
	slog.Info("grading endpoint OK", "url", v.GetString("openai-url"), "model", v.GetString("grader-model"))

	tokens := realtime.NewAPITokenSource(
		v.GetString("openai-url"),
		apiKey,
		v.GetString("realtime-model"),
		v.GetString("voice"),
	)
	dialer := realtime.NewOpenAIDialer(
		realtime.WithBaseURL(v.GetString("realtime-url")),
		realtime.WithModel(v.GetString("realtime-model")),
	)

	practiceCfg := model.PracticeConfig{
		UserID:        v.GetString("user-id"),
		MinDuration:   v.GetInt("min-duration"),
		Voice:         v.GetString("voice"),
		RealtimeModel: v.GetString("realtime-model"),
	}

	factory := func() *session.Orchestrator {
		return session.New(session.Deps{
			Passages: db,
			Tokens:   tokens,
			Dialer:   dialer,
			Grader:   gradingClient,
			Recorder: db,
		}, practiceCfg, slog.Default())
	}

	h, err := handler.New(db, factory)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	defer h.Shutdown()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"realtime_model", practiceCfg.RealtimeModel,
		"grader_model", v.GetString("grader-model"),
		"voice", practiceCfg.Voice,
		"min_duration", practiceCfg.MinDuration,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sessions, err := db.ExportAllSessions()
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	export := model.PracticeExport{
		ExportedAt: time.Now().UTC(),
		Count:      len(sessions),
		Sessions:   sessions,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func loadPassages(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("passage file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("passage file changed since last import, skipping to avoid breaking existing session records",
				"path", path)
			continue
		}

		var imports []model.PassageImport
		if err := json.Unmarshal(data, &imports); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for _, pi := range imports {
			passage := model.Passage{
				ID:        pi.ID,
				Title:     pi.Title,
				Content:   pi.Content,
				TimeLimit: pi.TimeLimit,
				CreatedAt: time.Now().UTC(),
			}
			for i, qi := range pi.Questions {
				order := qi.Order
				if order == 0 {
					order = i + 1
				}
				passage.Questions = append(passage.Questions, model.Question{
					ID:                qi.ID,
					PassageID:         pi.ID,
					Text:              qi.QuestionText,
					RecommendedAnswer: qi.RecommendedAnswer,
					Order:             order,
				})
			}
			if err := db.InsertPassage(passage); err != nil {
				return fmt.Errorf("insert passage from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported passages", "path", path, "count", len(imports))
	}

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
