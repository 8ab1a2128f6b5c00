// Package main is the pdfquery CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/pdfquery/internal/answer"
	"github.com/hyperjump/pdfquery/internal/cli"
	"github.com/hyperjump/pdfquery/internal/config"
	"github.com/hyperjump/pdfquery/internal/exchange"
	"github.com/hyperjump/pdfquery/internal/extract"
	"github.com/hyperjump/pdfquery/internal/hint"
	"github.com/hyperjump/pdfquery/internal/identity"
	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/server"
	"github.com/hyperjump/pdfquery/internal/storage"
	"github.com/hyperjump/pdfquery/internal/upload"
	"github.com/hyperjump/pdfquery/internal/watcher"
	"github.com/hyperjump/pdfquery/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/pdfquery/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default and ./config.yaml
// exists, that file is used instead so "pdfquery server" works from a checkout.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload", "list", "select", "ask", "show", "clear", "status":
		runClientCommand(command, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("pdfquery version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("provider", cfg.Answer.Provider),
		zap.String("hint_backend", cfg.Hint.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	resolver, err := buildResolver(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize identity", zap.Error(err))
	}

	if cfg.Inbox.Enabled() {
		inbox := startInbox(ctx, cfg, components, logger)
		defer inbox.Stop()
	}

	srv := server.NewServer(
		components.Registry,
		components.Pipeline,
		resolver,
		components.Store,
		components.Generator,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// startInbox uploads PDFs dropped into the configured directories into the inbox owner's session.
func startInbox(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) *watcher.Inbox {
	owner := models.Owner{ID: cfg.Inbox.Owner}
	ingester := watcher.NewIngester(c.Pipeline, func(ctx context.Context) (upload.Registry, watcher.Greeter, error) {
		e, err := c.Registry.Get(ctx, owner)
		if err != nil {
			return nil, nil, err
		}
		return e.Session, e.Exchange, nil
	}, logger)

	inbox := watcher.NewInbox(cfg.Inbox.Directories, cfg.Inbox.RecursiveOrDefault(), ingester.Ingest,
		watcher.WithLogger(logger))
	if err := inbox.Start(ctx); err != nil {
		logger.Fatal("Failed to start inbox watcher", zap.Error(err))
	}
	inbox.SyncExisting()
	logger.Info("inbox watching", zap.Strings("directories", inbox.Roots()), zap.String("owner", owner.ID))
	return inbox
}

// Components holds initialized services.
type Components struct {
	Store     *storage.SQLiteStorage
	Hints     hint.Store
	Generator answer.Generator
	Pipeline  *upload.Pipeline
	Registry  *server.Registry
	redis     *hint.RedisStore
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Store: store}

	switch cfg.Hint.Backend {
	case "redis":
		rs := hint.NewRedisStore(hint.RedisConfig{
			Addr:      cfg.Hint.Redis.Addr,
			DB:        cfg.Hint.Redis.DB,
			Password:  cfg.Hint.Redis.Password(),
			KeyPrefix: cfg.Hint.Redis.KeyPrefix,
		}, logger)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			// Hints are advisory; sessions still work without them.
			logger.Warn("redis unreachable, active document will not be remembered", zap.String("addr", cfg.Hint.Redis.Addr), zap.Error(err))
		}
		cancel()
		c.Hints, c.redis = rs, rs
	default:
		fsHints, err := hint.NewFileStore(cfg.Hint.Directory)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize hint store: %w", err)
		}
		c.Hints = fsHints
	}

	gen, err := answer.New(answer.Options{
		Provider:  cfg.Answer.Provider,
		Model:     cfg.Answer.Model,
		BaseURL:   cfg.Answer.BaseURL,
		APIKey:    cfg.Answer.APIKey(),
		MaxTokens: cfg.Answer.MaxTokens,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize answer provider: %w", err)
	}
	c.Generator = gen

	c.Pipeline = upload.NewPipeline(extract.NewExtractor(),
		upload.WithMaxSize(cfg.Upload.MaxSizeBytes),
		upload.WithLogger(logger),
	)
	c.Registry = server.NewRegistry(store, c.Hints, gen,
		cfg.Sessions.IdleTimeout, cfg.Sessions.CleanupInterval, logger,
		exchange.WithTimeout(cfg.Exchange.Timeout),
	)
	return c, nil
}

// buildResolver enables bearer tokens when a secret or JWKS URL is configured.
func buildResolver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*identity.Resolver, error) {
	opts := []identity.Option{
		identity.WithCookie(cfg.Auth.CookieName, cfg.Auth.SecureCookie),
		identity.WithLogger(logger),
	}
	switch {
	case cfg.Auth.JWTSecret() != "":
		v, err := identity.NewHMACVerifier([]byte(cfg.Auth.JWTSecret()))
		if err != nil {
			return nil, err
		}
		opts = append(opts, identity.WithVerifier(v))
	case cfg.Auth.JWKSURL != "":
		v, err := identity.NewJWKSVerifier(ctx, cfg.Auth.JWKSURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, identity.WithVerifier(v))
	}
	return identity.NewResolver(opts...), nil
}

// backend is what the client commands need; served by a running server or by local storage.
type backend interface {
	Upload(ctx context.Context, path string) (*models.Document, error)
	List(ctx context.Context) (*server.DocumentList, error)
	Document(ctx context.Context, id string) (*models.Document, error)
	Select(ctx context.Context, id string) (*models.Document, error)
	Ask(ctx context.Context, question string) (*exchange.Result, error)
	Clear(ctx context.Context) error
	Status(ctx context.Context) (map[string]interface{}, error)
}

// localBackend works on the database directly, for when no server is running.
type localBackend struct {
	c     *Components
	entry *server.Entry
	owner models.Owner
	cfg   *config.Config
}

func (b *localBackend) Upload(ctx context.Context, path string) (*models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := b.c.Pipeline.Upload(ctx, b.entry.Session, upload.File{
		Name:     filepath.Base(path),
		MIMEType: sniffMIMEType(data),
		Size:     int64(len(data)),
		Data:     data,
	})
	if err != nil {
		return nil, err
	}
	if err := b.entry.Exchange.EnsureGreeting(ctx, doc.ID); err != nil {
		return nil, err
	}
	return b.entry.Session.Document(doc.ID)
}

func (b *localBackend) List(ctx context.Context) (*server.DocumentList, error) {
	list := server.NewDocumentList(b.entry.Session)
	return &list, nil
}

func (b *localBackend) Document(ctx context.Context, id string) (*models.Document, error) {
	return b.entry.Session.Document(id)
}

func (b *localBackend) Select(ctx context.Context, id string) (*models.Document, error) {
	return b.entry.Exchange.Select(ctx, id)
}

func (b *localBackend) Ask(ctx context.Context, question string) (*exchange.Result, error) {
	return b.entry.Exchange.Ask(ctx, question)
}

func (b *localBackend) Clear(ctx context.Context) error {
	if err := b.entry.Session.ClearAll(ctx); err != nil {
		return err
	}
	b.entry.Exchange.Forget()
	return nil
}

func (b *localBackend) Status(ctx context.Context) (map[string]interface{}, error) {
	count, err := b.c.Store.CountDocuments(ctx, b.owner.ID)
	if err != nil {
		return nil, err
	}
	st := map[string]interface{}{
		"owner":        b.owner,
		"documents":    count,
		"active_id":    b.entry.Session.ActiveID(),
		"provider":     b.c.Generator.Name(),
		"database":     b.cfg.Storage.DatabasePath,
		"hint_backend": b.cfg.Hint.Backend,
	}
	if n, err := storage.FootprintBytes(b.cfg.Storage.DatabasePath); err == nil {
		st["disk_usage_bytes"] = n
	}
	return st, nil
}

// sniffMIMEType returns the media type of data without parameters.
func sniffMIMEType(data []byte) string {
	mt, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

// clientFlags are shared by every client command.
type clientFlags struct {
	configPath string
	serverURL  string
	token      string
	owner      string
	output     string
}

func (f *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", defaultConfigPath, "config file path")
	fs.StringVar(&f.serverURL, "server", defaultServerURL, "server URL (empty = use local storage when the server is not running)")
	fs.StringVar(&f.token, "token", os.Getenv("PDFQUERY_TOKEN"), "bearer token (default $PDFQUERY_TOKEN)")
	fs.StringVar(&f.owner, "owner", "", "owner id for local storage mode (default: inbox owner from config)")
	fs.StringVar(&f.output, "output", "text", "output format: text or json")
}

// argsReorder moves flags that follow positional arguments to the front so
// "pdfquery ask what was the revenue -output json" parses the flag.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuestion joins positional args so questions work with or without quotes.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runClientCommand(command string, args []string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	var flags clientFlags
	flags.register(fs)
	_ = fs.Parse(argsReorder(args))

	format, err := cli.ParseOutputFormat(flags.output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	b, closeFn, err := openBackend(ctx, &flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	if err := runCommand(ctx, b, os.Stdout, command, fs.Args(), format); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		closeFn()
		os.Exit(1)
	}
}

func openBackend(ctx context.Context, flags *clientFlags) (backend, func(), error) {
	if flags.serverURL != "" {
		cookieName := identity.DefaultCookieName
		if cfg, _, err := loadConfig(flags.configPath); err == nil {
			cookieName = cfg.Auth.CookieName
		}
		return cli.NewClient(flags.serverURL, flags.token, cookieName, cli.DefaultOwnerFile()), func() {}, nil
	}

	cfg, _, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	owner := models.Owner{ID: flags.owner}
	if owner.ID == "" {
		owner.ID = cfg.Inbox.Owner
	}
	entry, err := c.Registry.Get(ctx, owner)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	closeFn := func() {
		c.Close()
		_ = logger.Sync()
	}
	return &localBackend{c: c, entry: entry, owner: owner, cfg: cfg}, closeFn, nil
}

func runCommand(ctx context.Context, b backend, out io.Writer, command string, args []string, format cli.OutputFormat) error {
	switch command {
	case "upload":
		if len(args) == 0 {
			return errors.New("usage: pdfquery upload [flags] <file.pdf>...")
		}
		for _, path := range args {
			doc, err := b.Upload(ctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := cli.WriteTranscript(out, doc, format); err != nil {
				return err
			}
		}
		return nil
	case "list":
		list, err := b.List(ctx)
		if err != nil {
			return err
		}
		return cli.WriteDocuments(out, list, format)
	case "select":
		if len(args) != 1 {
			return errors.New("usage: pdfquery select [flags] <document-id>")
		}
		doc, err := b.Select(ctx, args[0])
		if err != nil {
			return err
		}
		return cli.WriteTranscript(out, doc, format)
	case "ask":
		question := buildQuestion(args)
		if question == "" {
			return errors.New("usage: pdfquery ask [flags] <question>")
		}
		res, err := b.Ask(ctx, question)
		if err != nil {
			return err
		}
		return cli.WriteResult(out, res, format)
	case "show":
		id := ""
		if len(args) > 0 {
			id = args[0]
		} else {
			list, err := b.List(ctx)
			if err != nil {
				return err
			}
			id = list.ActiveID
		}
		if id == "" {
			return errors.New("no active document")
		}
		doc, err := b.Document(ctx, id)
		if err != nil {
			return err
		}
		return cli.WriteTranscript(out, doc, format)
	case "clear":
		if err := b.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "All documents removed.")
		return nil
	case "status":
		st, err := b.Status(ctx)
		if err != nil {
			return err
		}
		return writeStatus(out, st, format)
	}
	return fmt.Errorf("unknown command %q", command)
}

func writeStatus(out io.Writer, st map[string]interface{}, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		return cli.WriteJSON(out, st)
	}
	for _, key := range []string{"documents", "active_id", "phase", "provider", "sessions", "max_size", "hint_backend", "database", "disk_usage_bytes"} {
		if v, ok := st[key]; ok {
			fmt.Fprintf(out, "%-18s %v\n", key+":", v)
		}
	}
	return nil
}

func printUsage() {
	fmt.Println(`pdfquery - Chat with your PDF documents

Usage:
  pdfquery server [flags]              Start the HTTP server
  pdfquery upload [flags] <file.pdf>   Upload one or more PDFs
  pdfquery list [flags]                List uploaded documents (* marks the active one)
  pdfquery select [flags] <id>         Make a document active
  pdfquery ask [flags] <question>      Ask about the active document
  pdfquery show [flags] [id]           Show a conversation (default: active document)
  pdfquery clear [flags]               Remove all documents
  pdfquery status [flags]              Show server and storage status
  pdfquery version                     Show version
  pdfquery help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/pdfquery/config.yaml)
  --debug            Enable debug logging

Client Flags:
  --config string    Config file path (cookie name; local storage mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to work on local storage.
  --token string     Bearer token (default: $PDFQUERY_TOKEN)
  --owner string     Owner id in local storage mode (default: inbox owner)
  --output string    Output format: text or json (default: text)

Examples:
  pdfquery server
  pdfquery upload report.pdf
  pdfquery ask what was the revenue in 2023
  pdfquery list --output json
  pdfquery list --server ""`)
}
