// Command webd runs the single-reactor, multi-worker HTTP/1.1 static-file
// server, wiring internal/config -> internal/logging -> internal/dbpool ->
// internal/reactor the way WebServer's constructor wires its own
// collaborators in original_source/code/server/webserver.cpp.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/arcflow-systems/webd/internal/conn"
	"github.com/arcflow-systems/webd/internal/config"
	"github.com/arcflow-systems/webd/internal/dbpool"
	"github.com/arcflow-systems/webd/internal/logging"
	"github.com/arcflow-systems/webd/internal/loginform"
	"github.com/arcflow-systems/webd/internal/poller"
	"github.com/arcflow-systems/webd/internal/reactor"
	"github.com/arcflow-systems/webd/internal/staticfile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "webd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logging.New(cfg.OpenLog, logging.Level(cfg.LogLevel), cfg.LogQueSize, nil)
	defer log.Close()
	log.Info("server init",
		"port", cfg.Port, "optLinger", cfg.OptLinger,
		"listenMode", trigName(cfg.TrigMode.ListenerEdgeTriggered()),
		"connMode", trigName(cfg.TrigMode.ConnEdgeTriggered()),
		"threadNum", cfg.ThreadNum, "connPoolNum", cfg.ConnPoolNum)

	srcRoot, err := resourceRoot()
	if err != nil {
		return fmt.Errorf("resolve resource root: %w", err)
	}
	log.Info("static root", "path", srcRoot)

	if cfg.SQLUser != "" {
		dsn := fmt.Sprintf("%s:%s@tcp(localhost:%d)/%s", cfg.SQLUser, cfg.SQLPwd, cfg.SQLPort, cfg.DBName)
		pool, err := dbpool.Open("mysql", dsn, cfg.ConnPoolNum)
		if err != nil {
			log.Warn("DB pool unavailable, /login disabled", "error", err)
		} else {
			defer pool.Close()
			conn.Login = loginform.New(pool)
		}
	}

	var staticWatcher *staticfile.Watcher
	if cfg.WatchStatic {
		staticWatcher, err = staticfile.NewWatcher(srcRoot, log.Slog(), func(path string) {
			log.Debug("static file changed", "path", path)
		})
		if err != nil {
			log.Warn("static file watcher disabled", "error", err)
		} else {
			defer staticWatcher.Close()
		}
	}

	pfd, err := poller.New()
	if err != nil {
		return fmt.Errorf("create poller: %w", err)
	}

	r, err := reactor.New(reactor.Config{
		Port:                cfg.Port,
		ListenEdgeTriggered: cfg.TrigMode.ListenerEdgeTriggered(),
		ConnEdgeTriggered:   cfg.TrigMode.ConnEdgeTriggered(),
		TimeoutMS:           cfg.TimeoutMS,
		OptLinger:           cfg.OptLinger,
		MaxFD:               maxFD,
		ThreadNum:           cfg.ThreadNum,
		QueueCapacity:       queueCapacity,
		SourceRoot:          srcRoot,
	}, log, pfd)
	if err != nil {
		return fmt.Errorf("server init error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	reactor.RunWithGroup(gctx, g, r)

	log.Info("server start")
	return g.Wait()
}

// maxFD and queueCapacity are process-wide tuning constants rather than CLI
// flags: spec section 6 enumerates exactly the parameters above as
// "required unless noted" startup inputs and does not list these among
// them, so they are kept as named constants instead of inflating the flag
// surface.
const (
	maxFD         = 65536
	queueCapacity = 1024
)

func resourceRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, "resources") + string(filepath.Separator), nil
}

func trigName(edgeTriggered bool) string {
	if edgeTriggered {
		return "ET"
	}
	return "LT"
}
