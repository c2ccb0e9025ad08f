// The field agent runs on an assessor's laptop: it keeps an encrypted local
// store of field data, queues writes while offline and replays them against
// the central API whenever connectivity returns.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/relieflab/dms/core"
	"github.com/relieflab/dms/offline/capture"
	"github.com/relieflab/dms/offline/client"
	"github.com/relieflab/dms/offline/queue"
	"github.com/relieflab/dms/offline/store"
	"github.com/relieflab/dms/offline/sync"
	logsvc "github.com/relieflab/dms/services/logger"
)

var readPasswordFunc = term.ReadPassword // mockable

// storePassphrase takes the passphrase from the environment when set, so the
// daemon can start headless; otherwise it prompts.
func storePassphrase() (string, error) {
	if p := os.Getenv("DMS_AGENT_PASSPHRASE"); p != "" {
		return p, nil
	}
	fmt.Print("Store passphrase:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	return string(pwd), err
}

func main() {
	conf := core.LoadConfig()
	logger := logsvc.NewZapLogger(conf)

	if err := os.MkdirAll(conf.Agent.DataDir, 0o700); err != nil {
		logger.Fatal("creating data dir", "error", err)
	}

	passphrase, err := storePassphrase()
	if err != nil {
		logger.Fatal("reading passphrase", "error", err)
	}

	st, err := store.Open(filepath.Join(conf.Agent.DataDir, "agent.db"), passphrase, store.Options{})
	if err != nil {
		logger.Fatal("unlocking store", "error", err)
	}
	defer st.Close()

	q, err := queue.New(st.DB())
	if err != nil {
		logger.Fatal("opening queue", "error", err)
	}

	cl := client.New(conf.Agent.ServerURL, conf.Agent.Timeout)
	if username := os.Getenv("DMS_AGENT_USERNAME"); username != "" {
		fmt.Print("API password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			logger.Fatal("reading password", "error", err)
		}
		if err = cl.Login(context.Background(), username, string(pwd)); err != nil {
			logger.Warn("login failed; continuing offline", "error", err)
		}
	}

	engine := sync.NewEngine(st, q, cl, logger, sync.Options{
		BatchSize:  conf.Agent.BatchSize,
		MaxRetries: conf.Agent.MaxRetries,
		Spec:       conf.Agent.SyncSpec,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = engine.Start(ctx); err != nil {
		logger.Fatal("starting sync engine", "error", err)
	}

	watcher := capture.NewWatcher(filepath.Join(conf.Agent.DataDir, "outbox"), st, q, logger)
	if err = watcher.Start(); err != nil {
		logger.Fatal("starting outbox watcher", "error", err)
	}
	logger.Info("agent running", "server", conf.Agent.ServerURL, "schedule", conf.Agent.SyncSpec)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	watcher.Stop()
	engine.Stop()
}
