// Command tracker runs the torrent registry + peer announce HTTP
// service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/avidal/gopher-torrent/internal/config"
	"github.com/avidal/gopher-torrent/internal/trackerhttp"
	"github.com/avidal/gopher-torrent/internal/trackerstate"
	"github.com/avidal/gopher-torrent/internal/trackerstore"
	"github.com/avidal/gopher-torrent/internal/xlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML tracker config")
	listenAddr := flag.String("listen", "", "override the listen address")
	verbose := flag.Bool("verbose", false, "enable development logging")
	flag.Parse()

	log, err := xlog.New(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracker: building logger:", err)
		return 1
	}
	defer log.Sync()

	cfg := config.DefaultTracker()
	if err := config.Load(*configPath, &cfg); err != nil {
		log.Errorw("loading config", "error", err)
		return 1
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	store, err := trackerstore.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		log.Errorw("opening sqlite store", "error", err)
		return 1
	}
	defer store.Close()

	descriptors := trackerstore.NewDescriptorStore()
	machine := trackerstate.NewMachine(store, int(cfg.AnnounceInterval.Seconds()), cfg.StalePeerAge, cfg.MaxPeersReturned)
	server := trackerhttp.NewServer(machine, store, descriptors, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server}
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	log.Infow("tracker listening", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorw("serving", "error", err)
		return 1
	}
	return 0
}
