// Package main is the kenkyu CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kenkyu/internal/cli"
	"github.com/hyperjump/kenkyu/internal/config"
	"github.com/hyperjump/kenkyu/internal/models"
	"github.com/hyperjump/kenkyu/internal/server"
	"github.com/hyperjump/kenkyu/internal/storage"
	"github.com/hyperjump/kenkyu/internal/watcher"
	"github.com/hyperjump/kenkyu/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kenkyu/config.yaml"

var defaultExtensions = []string{".txt", ".md", ".rst"}

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists; when neither exists, built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := &config.Config{}
			config.ApplyEnv(cfg)
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// A missing .env is fine; the environment may already carry the settings.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	var err error
	switch command {
	case "index":
		err = runIndex(args)
	case "serve":
		err = runServe(args)
	case "watch":
		err = runWatch(args)
	case "search":
		err = runSearch(args)
	case "status", "stats":
		err = runStatus(args)
	case "health":
		err = runHealth(args)
	case "delete":
		err = runDelete(args)
	case "reindex":
		err = runReindex(args)
	case "init":
		err = runInit(args)
	case "version", "--version", "-v":
		fmt.Printf("kenkyu version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage(os.Stdout)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

// session is the shared setup of every command that touches the index.
type session struct {
	cfg        *config.Config
	logger     *zap.Logger
	components *Components
}

func (s *session) close() {
	s.components.Close()
	_ = s.logger.Sync()
}

func openSession(ctx context.Context, configPath string, debugFlag bool) (*session, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	components, err := initializeComponents(ctx, cfg, logger, debug)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return &session{cfg: cfg, logger: logger, components: components}, nil
}

func commonFlags(fs *flag.FlagSet) (configPath *string, debug *bool) {
	configPath = fs.String("config", defaultConfigPath, "config file path")
	debug = fs.Bool("debug", false, "enable debug logging")
	return
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	title := fs.String("title", "", "document title (stdin input only)")
	id := fs.String("id", "", "document id (stdin input only; generated when empty)")
	exts := fs.String("ext", strings.Join(defaultExtensions, ","), "comma-separated file extensions to index")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: kenkyu index [flags] <file|dir|->...")
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer s.close()

	allowed := splitList(*exts)
	var files, segments int
	for _, path := range fs.Args() {
		if path == "-" {
			content, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			input := &models.DocumentInput{ID: *id, Title: *title, Content: string(content)}
			docID, n, err := s.components.Indexer.IndexDocument(ctx, input)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %s (%d segments)\n", docID, n)
			files++
			segments += n
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			f, n, err := s.components.Indexer.IndexDirectory(ctx, path, allowed)
			files += f
			segments += n
			if err != nil {
				return err
			}
			continue
		}
		n, skipped, err := s.components.Indexer.IndexFile(ctx, path, allowed)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if skipped {
			fmt.Printf("Unchanged %s\n", path)
			continue
		}
		fmt.Printf("Indexed %s (%d segments)\n", path, n)
		files++
		segments += n
	}
	fmt.Printf("Indexed %d documents, %d segments\n", files, segments)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	host := fs.String("host", "", "listen host (default from config)")
	port := fs.Int("port", 0, "listen port (default from config)")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer s.close()
	if *host != "" {
		s.cfg.Server.Host = *host
	}
	if *port != 0 {
		s.cfg.Server.Port = *port
	}

	c := s.components
	srv := server.NewServer(server.Deps{
		Retriever:  c.Retriever,
		Indexer:    c.Indexer,
		Index:      c.Index,
		Storage:    c.Storage,
		EngineType: c.Engine.Type(),
	}, s.cfg, s.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	exts := fs.String("ext", strings.Join(defaultExtensions, ","), "comma-separated file extensions to index")
	debounce := fs.Duration("debounce", 400*time.Millisecond, "quiet period before a changed file is re-indexed")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: kenkyu watch [flags] <dir>...")
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer s.close()

	w := watcher.New(fs.Args(), splitList(*exts), s.components.Indexer,
		watcher.WithLogger(s.logger), watcher.WithDebounce(*debounce))
	go func() {
		select {
		case <-w.Ready():
			fmt.Printf("Watching %s (Ctrl+C to stop)\n", strings.Join(fs.Args(), ", "))
		case <-ctx.Done():
		}
	}()
	return w.Run(ctx)
}

// filterFlag collects repeated key=value metadata filters.
type filterFlag map[string]any

func (f filterFlag) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (f filterFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("filter must be key=value, got %q", s)
	}
	f[k] = parseFilterValue(v)
	return nil
}

// parseFilterValue keeps integers, floats and booleans typed so they match stored metadata.
func parseFilterValue(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if x, err := strconv.ParseFloat(v, 64); err == nil {
		return x
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

// buildSearchQuery joins positional args into a single query string.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves flags after the query to the front so flag.Parse sees them.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if strings.HasPrefix(a, "-") && i > 0 {
			out := make([]string, 0, len(args))
			out = append(out, args[i:]...)
			out = append(out, args[:i]...)
			return out
		}
	}
	return args
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	limit := fs.Int("limit", 0, "maximum results (default from config)")
	threshold := fs.Float64("threshold", -1, "minimum similarity in [0,1] (default from config)")
	hybrid := fs.Bool("hybrid", false, "boost results that share query words (also enabled by config)")
	rerank := fs.Bool("rerank", false, "boost results containing the whole query")
	reason := fs.Bool("reason", false, "explain each result")
	output := fs.String("output", "text", "output format: text or json")
	filter := filterFlag{}
	fs.Var(filter, "filter", "metadata filter key=value (repeatable)")
	_ = fs.Parse(searchArgsReorder(args))

	query := buildSearchQuery(fs.Args())
	if query == "" {
		return fmt.Errorf("usage: kenkyu search [flags] <query>")
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer s.close()

	opts := models.QueryOptions{
		QueryText:          query,
		MaxResults:         s.cfg.Retrieval.DefaultMaxResults,
		RelevanceThreshold: s.cfg.Retrieval.DefaultThreshold,
		MetadataFilter:     filter,
		HybridSearch:       *hybrid || s.cfg.Retrieval.HybridSearch,
		Rerank:             *rerank,
		IncludeReasoning:   *reason,
	}
	if *limit > 0 {
		opts.MaxResults = *limit
	}
	if *threshold >= 0 {
		opts.RelevanceThreshold = *threshold
	}
	if len(filter) == 0 {
		opts.MetadataFilter = nil
	}

	start := time.Now()
	results, err := s.components.Retriever.SearchWithContext(ctx, opts)
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(os.Stdout, &cli.SearchOutput{
		Query:     query,
		QueryTime: time.Since(start).Milliseconds(),
		Results:   results,
	}, format)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer s.close()

	out, err := cli.CollectStatus(ctx, s.components.Index, s.components.Storage, s.components.Engine.Type(),
		s.cfg.Storage.DatabasePath, s.cfg.Storage.VectorDir)
	if err != nil {
		return err
	}
	return cli.WriteStatus(os.Stdout, out, format)
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	timeout := fs.Duration("timeout", 10*time.Second, "health check timeout")
	_ = fs.Parse(args)
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	s, err := openSession(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer s.close()

	status := s.components.Index.HealthCheck(ctx)
	if err := cli.WriteHealth(os.Stdout, status, format); err != nil {
		return err
	}
	if !status.Healthy {
		return fmt.Errorf("collection %s is unhealthy", status.Collection)
	}
	return nil
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: kenkyu delete [flags] <source-id>...")
	}

	ctx := context.Background()
	s, err := openSession(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer s.close()

	for _, id := range fs.Args() {
		if err := s.components.Indexer.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Printf("Deleted %s\n", id)
	}
	return nil
}

func runReindex(args []string) error {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	all := fs.Bool("all", false, "reindex every registered document")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	s, err := openSession(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer s.close()

	ids := fs.Args()
	if *all {
		ids, err = allDocumentIDs(ctx, s.components.Storage)
		if err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("usage: kenkyu reindex [flags] (--all | <source-id>...)")
	}
	for _, id := range ids {
		n, err := s.components.Indexer.ReindexDocument(ctx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Printf("Reindexed %s (%d segments)\n", id, n)
	}
	return nil
}

func allDocumentIDs(ctx context.Context, store storage.Storage) ([]string, error) {
	const page = 500
	var ids []string
	for offset := 0; ; offset += page {
		docs, err := store.ListDocuments(ctx, offset, page)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		if len(docs) < page {
			return ids, nil
		}
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)
	path := "config.yaml"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `kenkyu - Chunking, vector indexing and ranked retrieval for research documents

Usage:
  kenkyu index [flags] <file|dir|->...   Index text files, directories, or stdin
  kenkyu serve [flags]                   Serve the HTTP API
  kenkyu watch [flags] <dir>...          Index directories and keep them in sync
  kenkyu search [flags] <query>          Search indexed segments
  kenkyu status [flags]                  Show collection statistics
  kenkyu health [flags]                  Check the vector engine and embedder
  kenkyu delete [flags] <source-id>...   Delete documents and their segments
  kenkyu reindex [flags] <source-id>...  Re-chunk and re-embed stored documents
  kenkyu init [path]                     Write a default config file
  kenkyu version                         Show version
  kenkyu help                            Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kenkyu/config.yaml, or ./config.yaml)
  --debug            Enable debug logging

Index Flags:
  --ext string       Comma-separated extensions to index (default: .txt,.md,.rst)
  --title string     Document title for stdin input
  --id string        Document id for stdin input

Serve Flags:
  --host string        Listen host (default from config: localhost)
  --port int           Listen port (default from config: 8080)

Watch Flags:
  --ext string         Comma-separated extensions to index (default: .txt,.md,.rst)
  --debounce duration  Quiet period before a changed file is re-indexed (default: 400ms)

Search Flags:
  --limit int          Maximum results (default from config)
  --threshold float    Minimum similarity in [0,1] (default from config)
  --hybrid             Boost results that share query words
  --rerank             Boost results containing the whole query
  --reason             Explain each result
  --filter key=value   Metadata filter (repeatable)
  --output string      Output format: text or json

Environment:
  OPENAI_API_KEY     Selects the OpenAI embedder when no provider is configured (.env is loaded)

Examples:
  kenkyu index ./papers
  cat notes.txt | kenkyu index --title "Lab notes" -
  kenkyu search --hybrid --reason "retrieval augmented generation"
  kenkyu search --filter title=notes.txt "attention"
  kenkyu status --output json`)
}
