// Package cli implements the layered-memory CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/layered-memory/internal/config"
	"github.com/rcliao/layered-memory/internal/embedding"
	"github.com/rcliao/layered-memory/internal/logging"
	"github.com/rcliao/layered-memory/internal/memory"
	"github.com/rcliao/layered-memory/internal/model"
	"github.com/rcliao/layered-memory/internal/store"
	"github.com/rcliao/layered-memory/internal/vector"
)

var (
	dbPath       string
	vectorDir    string
	configPath   string
	logLevel     string
	formatFlag   string
	drainTimeout time.Duration

	// cleanup closes the open manager; exitErr runs it before exiting
	cleanupMu sync.Mutex
	cleanup   func()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "layered-memory",
	Short: "Hybrid keyword and semantic memory for agents",
	Long: "Remember facts, recall them with blended keyword and semantic ranking, and forget them again.\n" +
		"Records live in SQLite; a vector index is kept in sync in the background.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $LAYERED_MEMORY_DB or ~/.layered-memory/memory.db)")
	RootCmd.PersistentFlags().StringVar(&vectorDir, "vector-dir", "", "Vector index directory (default: ~/.layered-memory/vectors)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.layered-memory/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().DurationVar(&drainTimeout, "drain", 3*time.Second, "How long to let pending vector syncs finish before exiting")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if vectorDir != "" {
		cfg.VectorDir = vectorDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

// openManager wires the engine from config. The returned func drains the
// sync queue for up to --drain and closes everything.
func openManager(ctx context.Context) (*memory.Manager, func()) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)
	logging.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		exitErr("open store", err)
	}

	emb, err := embedding.NewFromConfig(cfg.Embedding)
	if err != nil {
		st.Close()
		exitErr("configure embedder", err)
	}

	var idx vector.Index
	if emb != nil {
		ci, err := vector.NewChromemIndex(cfg.VectorDir, logger)
		if err != nil {
			logger.Warn("vector index unavailable, recall is keyword only", "dir", cfg.VectorDir, "error", err)
		} else {
			idx = ci
		}
	}

	mgr, err := memory.New(memory.Options{
		Store:    st,
		Index:    idx,
		Embedder: emb,
		Logger:   logger,
		Config:   cfg,
	})
	if err != nil {
		st.Close()
		exitErr("create manager", err)
	}
	if err := mgr.Start(ctx); err != nil {
		mgr.Close()
		exitErr("start", err)
	}

	done := sync.OnceFunc(func() {
		if drainTimeout > 0 {
			dctx, cancel := context.WithTimeout(ctx, drainTimeout)
			if err := mgr.WaitIdle(dctx); err != nil {
				logger.Debug("exiting with syncs pending", "error", err)
			}
			cancel()
		}
		if err := mgr.Close(); err != nil {
			logger.Warn("close", "error", err)
		}
	})
	setCleanup(done)
	return mgr, done
}

func setCleanup(fn func()) {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	cleanup = fn
}

func runCleanup() {
	cleanupMu.Lock()
	fn := cleanup
	cleanup = nil
	cleanupMu.Unlock()
	if fn != nil {
		fn()
	}
}

func textFormat() bool { return formatFlag == "text" }

type field struct {
	key   string
	value any
}

// writeReport prints fields as a JSON object, or as aligned "key: value"
// lines in text mode.
func writeReport(w io.Writer, text bool, fields ...field) {
	if text {
		for _, f := range fields {
			fmt.Fprintf(w, "%-9s %v\n", f.key+":", f.value)
		}
		return
	}
	obj := make(map[string]any, len(fields))
	for _, f := range fields {
		obj[f.key] = f.value
	}
	b, _ := json.MarshalIndent(obj, "", "  ")
	fmt.Fprintln(w, string(b))
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printMemories(mems []model.Memory) {
	if !textFormat() {
		if mems == nil {
			mems = []model.Memory{}
		}
		printJSON(mems)
		return
	}
	for _, m := range mems {
		fmt.Println(formatMemory(m))
	}
}

func formatMemory(m model.Memory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-10s %.2f  %s", m.ID, m.Category, m.Importance, m.Content)
	if len(m.Tags) > 0 {
		fmt.Fprintf(&b, "  [%s]", strings.Join(m.Tags, ","))
	}
	if m.Archived {
		b.WriteString("  (archived)")
	}
	return b.String()
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// readContent takes content from args, falling back to piped stdin.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	slog.Default().Debug("command failed", "error", err)
	runCleanup()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if model.IsValidation(err) {
		return 2
	}
	return 1
}
