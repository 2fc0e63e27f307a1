package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"pagechat/internal/completion"
	"pagechat/internal/config"
	"pagechat/internal/envelope"
	"pagechat/internal/kvstore"
	"pagechat/internal/pagechat"
	"pagechat/internal/scheduler"
	"pagechat/internal/session"
	"pagechat/internal/trigger"
	"pagechat/internal/tui"

	"go.uber.org/zap"
)

func main() {
	var (
		configPath string
		pageURL    string
		pageTitle  string
		tabID      int
		pageFile   string
		plain      bool
		list       bool
		domain     string
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON")
	flag.StringVar(&pageURL, "url", "", "URL of the page to chat about")
	flag.StringVar(&pageTitle, "title", "", "Title of the page")
	flag.IntVar(&tabID, "tab", 1, "Tab id the surface is attached to")
	flag.StringVar(&pageFile, "page", "", "Path to a file holding the page's readable text")
	flag.BoolVar(&plain, "plain", false, "Line-mode REPL instead of the TUI")
	flag.BoolVar(&list, "list", false, "List stored sessions and exit")
	flag.StringVar(&domain, "domain", "", "Domain filter for -list")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Storage.BaseDir, plain || list)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	kv, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store failed: %v\n", err)
		os.Exit(1)
	}
	defer kv.Close()

	sessions := session.New(kv, logger)

	if list {
		if err := printSessions(sessions, domain); err != nil {
			fmt.Fprintf(os.Stderr, "list sessions failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if pageURL == "" {
		fmt.Fprintln(os.Stderr, "usage: pagechat -url <page url> [-title ...] [-page text-file] [-plain]")
		os.Exit(2)
	}

	sched := scheduler.New(logger)
	defer sched.Stop()

	var (
		pages pagechat.PageContentProvider
		tools []completion.LocalTool
	)
	if pageFile != "" {
		provider := &filePageProvider{path: pageFile}
		pages = provider
		tools = append(tools, &pageContentTool{provider: provider, tabID: tabID})
	}

	client := completion.NewClient(completion.Config{
		Format:      completion.Format(cfg.Provider.Format),
		BaseURL:     cfg.Provider.BaseURL,
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Chat.Temperature,
		TimeoutMS:   cfg.Provider.TimeoutMS,
	}, logger, tools...)

	app := pagechat.New(pagechat.Deps{
		Sessions:  sessions,
		Completer: client,
		Trigger:   trigger.NewMachine(kv, sched, logger),
		Scheduler: sched,
		Registry:  envelope.NewRegistry(logger),
		KV:        kv,
		Pages:     pages,
		Settings:  pagechat.NewKVSettings(kv, pagechat.SettingsFromConfig(cfg)),
		Logger:    logger,
	})

	tab := pagechat.Tab{ID: tabID, URL: pageURL, Title: pageTitle}

	// Opening the surface runs the trigger decision, replaying the pending
	// command when auto-execution applies.
	hello := envelope.SurfaceHello{Surface: "cli", TabID: tabID, URL: pageURL}
	if err := app.SurfaceOpened(context.Background(), hello, func(envelope.Payload) error { return nil }); err != nil {
		logger.Warn("surface open", zap.Error(err))
	}

	if plain {
		err = runPlain(app, tab, filepath.Join(cfg.Storage.BaseDir, "repl.history"))
	} else {
		err = tui.Run(app, tab)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagechat: %v\n", err)
		os.Exit(1)
	}
}

// newLogger keeps stderr quiet for the interactive surfaces by writing
// to a log file under the data dir; headless invocations log to stderr.
func newLogger(baseDir string, toStderr bool) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	if !toStderr {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, err
		}
		logCfg.OutputPaths = []string{filepath.Join(baseDir, "pagechat.log")}
		logCfg.ErrorOutputPaths = logCfg.OutputPaths
	}
	return logCfg.Build()
}

func openStore(cfg config.Config) (kvstore.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return kvstore.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		return nil, err
	}
	return kvstore.NewSQLiteStore(filepath.Join(cfg.Storage.BaseDir, "pagechat.db"))
}

func printSessions(sessions *session.Store, domain string) error {
	summaries, err := sessions.List(context.Background(), domain)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, s := range summaries {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		fmt.Printf("%s  %-40.40s  %3d msgs  %s\n",
			s.LastUpdated.Format("2006-01-02 15:04"), title, s.MessageCount, s.PageLoadID)
	}
	return nil
}
