// Command seeder serves a file's pieces to downloaders over the peer
// wire protocol.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/avidal/gopher-torrent/internal/config"
	"github.com/avidal/gopher-torrent/internal/download"
	"github.com/avidal/gopher-torrent/internal/metainfo"
	"github.com/avidal/gopher-torrent/internal/seed"
	"github.com/avidal/gopher-torrent/internal/xlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML seeder config")
	descriptorPath := flag.String("descriptor", "", "path to the torrent descriptor JSON")
	filePath := flag.String("file", "", "path to the backing file to serve")
	listenAddr := flag.String("listen", "", "override the listen address")
	verbose := flag.Bool("verbose", false, "enable development logging")
	flag.Parse()

	log, err := xlog.New(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seeder: building logger:", err)
		return 1
	}
	defer log.Sync()

	cfg := config.DefaultSeeder()
	if err := config.Load(*configPath, &cfg); err != nil {
		log.Errorw("loading config", "error", err)
		return 1
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *filePath != "" {
		cfg.FilePath = *filePath
	}

	if *descriptorPath == "" {
		log.Errorw("missing -descriptor flag")
		return 1
	}

	descriptor, err := loadDescriptor(*descriptorPath)
	if err != nil {
		log.Errorw("loading descriptor", "error", err)
		return 1
	}

	self, err := metainfo.RandomPeerID(uint32(os.Getpid()))
	if err != nil {
		log.Errorw("generating peer id", "error", err)
		return 1
	}

	timeouts := download.Timeouts{
		Connect:    cfg.Timeouts.Connect,
		Message:    cfg.Timeouts.Message,
		Inactivity: cfg.Timeouts.Inactivity,
	}

	srv, err := seed.New(descriptor, cfg.FilePath, self, timeouts, log)
	if err != nil {
		log.Errorw("starting seed server", "error", err)
		return 1
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Errorw("listening", "addr", cfg.ListenAddr, "error", err)
		return 1
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("seeder listening", "addr", cfg.ListenAddr, "info_hash", descriptor.InfoHash)
	if err := srv.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		log.Errorw("serving", "error", err)
		return 1
	}
	return 0
}

func loadDescriptor(path string) (*metainfo.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var d metainfo.Descriptor
	if err := json.NewDecoder(f).Decode(&d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
