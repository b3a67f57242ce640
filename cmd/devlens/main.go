package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/auditmos/devlens/broadcast"
	"github.com/auditmos/devlens/incident"
	"github.com/auditmos/devlens/livelog"
	"github.com/auditmos/devlens/logging"
	"github.com/auditmos/devlens/mailer"
	"github.com/auditmos/devlens/server"
	"github.com/auditmos/devlens/stacktrace"
	"github.com/auditmos/devlens/storage"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const deliveryRetention = 30 * 24 * time.Hour

func main() {
	app := NewApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func NewApp() *cli.App {
	return &cli.App{
		Name:    "devlens",
		Usage:   "runtime diagnostics: live logs, resolved stack traces, incident mail",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Commands: []*cli.Command{
			serveCommand(),
			tailCommand(),
			resolveCommand(),
		},
	}
}

type serveOptions struct {
	addr         string
	mode         livelog.Mode
	buildDir     string
	publicDir    string
	dbPath       string
	templatesDir string
	jsonOutput   bool
	logLevel     string
	logFile      string
	proxies      []string
}

func serveCommand() *cli.Command {
	flags := []cli.Flag{
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "addr",
			Value:   ":8080",
			EnvVars: []string{"DEVLENS_ADDR"},
			Usage:   "listen address",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "mode",
			EnvVars: []string{"APP_ENV", "NODE_ENV"},
			Usage:   "deployment mode: development, test or production",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:  "build-dir",
			Usage: "compiled server output; only frames under it are resolved (default: paths containing /build/server/)",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:  "public-dir",
			Usage: "static files served as the application",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:  "db",
			Usage: "database path (default: ~/.devlens/devlens.db)",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:  "templates",
			Usage: "directory of template overrides",
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:  "json",
			Usage: "write logs as JSON lines",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:  "log-level",
			Usage: "minimum log level (default: debug outside production, info in production)",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:  "log-file",
			Usage: "append logs to this file instead of stdout",
		}),
		altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
			Name:    "trusted-proxy",
			EnvVars: []string{"DEVLENS_TRUSTED_PROXIES"},
			Usage:   "proxy address or CIDR allowed to set X-Forwarded-For (repeatable)",
		}),
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML file providing any of the flags above",
		},
	}

	return &cli.Command{
		Name:   "serve",
		Usage:  "run the application behind the diagnostics pipeline",
		Flags:  flags,
		Before: altsrc.InitInputSourceWithContext(flags, altsrc.NewYamlSourceFromFlagFunc("config")),
		Action: func(c *cli.Context) error {
			return runServe(serveOptions{
				addr:         c.String("addr"),
				mode:         livelog.ParseMode(c.String("mode")),
				buildDir:     c.String("build-dir"),
				publicDir:    c.String("public-dir"),
				dbPath:       c.String("db"),
				templatesDir: c.String("templates"),
				jsonOutput:   c.Bool("json"),
				logLevel:     c.String("log-level"),
				logFile:      c.String("log-file"),
				proxies:      c.StringSlice("trusted-proxy"),
			})
		},
	}
}

func tailCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "follow a server's live log stream",
		ArgsUsage: "[url]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Value:   "http://localhost:8080/logs",
				Usage:   "live log endpoint",
			},
		},
		Action: func(c *cli.Context) error {
			url := c.String("url")
			if c.NArg() > 0 {
				url = c.Args().First()
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, url, os.Stdout)
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "resolve a saved stack trace against local source maps",
		ArgsUsage: "<stack-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "build-dir",
				Usage: "compiled server output (default: paths containing /build/server/)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the resolution as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("stack file argument required")
			}
			return runResolve(c.Args().First(), c.String("build-dir"), c.Bool("json"), os.Stdout)
		},
	}
}

// initLogger builds the process logger. An empty level picks the default
// for mode. The returned cleanup closes the log file, if any.
func initLogger(jsonOutput bool, level, logFile string, mode livelog.Mode, hooks ...logging.Hook) (logging.Logger, func(), error) {
	var out io.Writer = os.Stdout
	cleanup := func() {}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		cleanup = func() { f.Close() }
	}

	var formatter logging.Formatter
	if jsonOutput {
		formatter = &logging.JSONFormatter{}
	} else {
		formatter = logging.NewHumanFormatter(out)
	}

	minLevel := logging.DEBUG
	if mode == livelog.Production {
		minLevel = logging.INFO
	}
	if level != "" {
		minLevel = logging.ParseLevel(level)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Output:    out,
		Formatter: formatter,
		Level:     minLevel,
		Hooks:     hooks,
		Sanitize:  true,
	})
	return logger, cleanup, nil
}

func runServe(opts serveOptions) error {
	proxies, err := livelog.ParseTrustedProxies(opts.proxies)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := broadcast.Default()
	var hooks []logging.Hook
	if opts.mode.AllowsLiveLog() {
		hooks = append(hooks, broadcast.NewTransport(b))
	}

	logger, cleanup, err := initLogger(opts.jsonOutput, opts.logLevel, opts.logFile, opts.mode, hooks...)
	if err != nil {
		return err
	}
	defer cleanup()
	b.SetLogger(logger)

	dbPath := opts.dbPath
	if dbPath == "" {
		if dbPath, err = getDBPath(); err != nil {
			return fmt.Errorf("get db path: %w", err)
		}
	}
	db, err := storage.OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	limits, err := storage.NewSQLiteLimitsRepo(db).Get()
	if err != nil {
		return fmt.Errorf("get limits: %w", err)
	}

	ruleRepo := storage.NewSQLiteRedactRuleRepo(db)
	if err := ruleRepo.Seed(); err != nil {
		return err
	}
	redactor, err := storage.NewRedactorWithRepo(ruleRepo)
	if err != nil {
		return fmt.Errorf("load redact rules: %w", err)
	}

	deliveries := storage.NewSQLiteDeliveryRepo(db)
	if n, err := deliveries.Prune(time.Now().Add(-deliveryRetention)); err != nil {
		logger.WithError(err).Warn("storage", "prune", "Failed to prune delivery history")
	} else if n > 0 {
		logger.WithFields(logging.Fields{"removed": n}).Info("storage", "prune", "Pruned delivery history")
	}

	mailCfg := mailer.ConfigFromEnv(os.Getenv)
	if err := mailCfg.Validate(); err != nil {
		logger.WithError(err).Warn("mailer", "config", "Incident mail will fail until configured")
	}
	dispatcher := mailer.NewDispatcher(mailer.DispatcherConfig{
		Config:   mailCfg,
		Recorder: deliveries,
		Logger:   logger,
	})

	maps := stacktrace.NewMapCache(logger)
	if opts.buildDir != "" && opts.mode.AllowsLiveLog() {
		if err := maps.Watch(ctx, opts.buildDir); err != nil {
			logger.WithError(err).Warn("stacktrace", "watch", "Source map changes will not be picked up")
		}
	}

	renderer, err := incident.NewRenderer(opts.templatesDir)
	if err != nil {
		return err
	}
	reporter := incident.NewReporter(incident.ReporterConfig{
		Resolver: stacktrace.NewResolver(pathFilter(opts.buildDir), maps, logger),
		Renderer: renderer,
		Mailer:   dispatcher,
		Redactor: redactor,
		Logger:   logger,
	})

	var app http.Handler = http.NotFoundHandler()
	if opts.publicDir != "" {
		app = http.FileServer(http.Dir(opts.publicDir))
	}

	srv, err := server.NewServer(server.ServerConfig{
		Addr:         opts.addr,
		Mode:         opts.mode,
		App:          app,
		Broadcaster:  b,
		Reporter:     reporter,
		Deliveries:   deliveries,
		Limiter:      server.NewRateLimiter(limits.IngestPerMin, limits.MaxStreamsPerClient),
		Proxies:      proxies,
		Logger:       logger,
		OverridesDir: opts.templatesDir,
		Drain:        []server.Waiter{reporter, dispatcher},
	})
	if err != nil {
		return err
	}

	srv.SetReadyCallback(func() {
		fmt.Printf("devlens ready on %s (%s)\n", srv.Addr(), opts.mode)
	})

	return srv.Start(ctx)
}

func pathFilter(buildDir string) stacktrace.PathFilter {
	if buildDir == "" {
		return stacktrace.ContainsDir(stacktrace.DefaultBuildFragment)
	}
	if abs, err := filepath.Abs(buildDir); err == nil {
		buildDir = abs
	}
	return stacktrace.UnderDir(buildDir)
}

func getDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".devlens")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "devlens.db"), nil
}

func runTail(ctx context.Context, url string, w io.Writer) error {
	formatter := logging.NewHumanFormatter(w)
	f := &livelog.Follower{URL: url}
	return f.Follow(ctx, func(ev livelog.Event) {
		if ev.Record == nil {
			fmt.Fprintln(w, ev.Data)
			return
		}
		line, err := formatter.Format(recordToEntry(ev.Record))
		if err != nil {
			fmt.Fprintln(w, ev.Data)
			return
		}
		w.Write(line)
	})
}

// recordToEntry turns a flat live record back into a LogEntry so the human
// formatter can print it.
func recordToEntry(record map[string]interface{}) logging.LogEntry {
	str := func(key string) string {
		s, _ := record[key].(string)
		return s
	}

	entry := logging.LogEntry{
		Level:     logging.ParseLevel(str("level")),
		Component: str("component"),
		Action:    str("action"),
		Message:   str("message"),
		Error:     str("error"),
		ErrorType: str("error_type"),
		TraceID:   str("trace_id"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, str("timestamp")); err == nil {
		entry.Timestamp = ts
	} else {
		entry.Timestamp = time.Now()
	}

	reserved := map[string]bool{
		"level": true, "component": true, "action": true, "message": true,
		"error": true, "error_type": true, "trace_id": true, "timestamp": true,
	}
	for k, v := range record {
		if reserved[k] {
			continue
		}
		if entry.Fields == nil {
			entry.Fields = logging.Fields{}
		}
		entry.Fields[k] = v
	}
	return entry
}

func runResolve(stackFile, buildDir string, jsonOutput bool, w io.Writer) error {
	data, err := os.ReadFile(stackFile)
	if err != nil {
		return fmt.Errorf("read stack file: %w", err)
	}

	logger, cleanup, err := initLogger(false, "warn", "", livelog.Development)
	if err != nil {
		return err
	}
	defer cleanup()

	r := stacktrace.NewResolver(pathFilter(buildDir), stacktrace.NewMapCache(logger), logger)
	res := r.Resolve(string(data))

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintln(w, res.Message)
	for _, line := range res.Stack {
		fmt.Fprintln(w, line)
	}
	for _, frame := range res.Frames {
		fmt.Fprintf(w, "\n// %s:%d:%d\n", frame.SourceFile, frame.Line, frame.Column)
		width := 1
		if n := len(frame.Context); n > 0 {
			width = len(fmt.Sprint(frame.Context[n-1].Number))
		}
		for _, cl := range frame.Context {
			marker := " "
			if cl.Target {
				marker = ">"
			}
			fmt.Fprintf(w, "%s %*d | %s\n", marker, width, cl.Number, cl.Text)
		}
	}
	return nil
}
