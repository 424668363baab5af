// Command downloader fetches a torrent's pieces from multiple peers and
// reassembles them into a file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/avidal/gopher-torrent/internal/clicolor"
	"github.com/avidal/gopher-torrent/internal/config"
	"github.com/avidal/gopher-torrent/internal/download"
	"github.com/avidal/gopher-torrent/internal/metainfo"
	"github.com/avidal/gopher-torrent/internal/xlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML downloader config")
	trackerURL := flag.String("tracker", "", "tracker base URL, e.g. http://localhost:8080")
	infoHash := flag.String("info-hash", "", "info_hash of the torrent to download")
	peersFlag := flag.String("peers", "", "comma-separated peer addresses, used instead of the tracker's peer list")
	outputDir := flag.String("output", "", "override the output directory")
	verbose := flag.Bool("verbose", false, "enable development logging")
	flag.Parse()

	log, err := xlog.New(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "downloader: building logger:", err)
		return 1
	}
	defer log.Sync()

	cfg := config.DefaultDownloader()
	if err := config.Load(*configPath, &cfg); err != nil {
		log.Errorw("loading config", "error", err)
		return 1
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}

	if *infoHash == "" {
		clicolor.Fail(os.Stderr, "downloader: -info-hash is required")
		return 1
	}

	var descriptor *metainfo.Descriptor
	var peerAddrs []string

	if *trackerURL != "" {
		descriptor, err = fetchDescriptor(*trackerURL, *infoHash)
		if err != nil {
			log.Errorw("fetching descriptor", "error", err)
			return 1
		}
		peerAddrs, err = fetchPeers(*trackerURL, *infoHash, cfg.MaxPeers)
		if err != nil {
			log.Errorw("fetching peers", "error", err)
			return 1
		}
	}
	if *peersFlag != "" {
		peerAddrs = strings.Split(*peersFlag, ",")
	}
	if descriptor == nil {
		clicolor.Fail(os.Stderr, "downloader: no descriptor available (pass -tracker)")
		return 1
	}
	if len(peerAddrs) == 0 {
		clicolor.Fail(os.Stderr, "downloader: no peers available")
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

	engine := download.NewEngine(descriptor, self, cfg.MaxPeers, timeouts, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bar := newProgressBar(descriptor.NumPieces())
	done := make(chan struct{})
	go reportProgress(engine, bar, done)

	runErr := engine.Run(ctx, peerAddrs)
	close(done)

	if runErr != nil {
		clicolor.Fail(os.Stderr, "downloader: %v", runErr)
		return 1
	}

	outPath := filepath.Join(cfg.OutputDir, descriptor.Name)
	if err := engine.Flush(outPath); err != nil {
		clicolor.Fail(os.Stderr, "downloader: %v", err)
		return 1
	}

	clicolor.Success(os.Stdout, "downloaded %s to %s", descriptor.Name, outPath)
	return 0
}

func newProgressBar(total int) *progressbar.ProgressBar {
	if !clicolor.IsInteractive(os.Stdout) {
		return nil
	}
	return progressbar.Default(int64(total), "pieces")
}

func reportProgress(engine *download.Engine, bar *progressbar.ProgressBar, done <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			completed, total := engine.Progress()
			if bar != nil {
				bar.Set(completed)
			} else {
				fmt.Fprintf(os.Stdout, "\r%d/%d pieces", completed, total)
			}
		}
	}
}

func fetchDescriptor(trackerURL, infoHash string) (*metainfo.Descriptor, error) {
	resp, err := http.Get(trackerURL + "/torrents/" + infoHash + "/download")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloader: tracker returned %s", resp.Status)
	}

	var d metainfo.Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

type peerEntry struct {
	IP   string `json:"IP"`
	Port uint16 `json:"Port"`
}

func fetchPeers(trackerURL, infoHash string, max int) ([]string, error) {
	resp, err := http.Get(trackerURL + "/peers/" + infoHash)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloader: tracker returned %s", resp.Status)
	}

	var peers []peerEntry
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(peers))
	for i, p := range peers {
		if max > 0 && i >= max {
			break
		}
		out = append(out, fmt.Sprintf("%s:%d", p.IP, p.Port))
	}
	return out, nil
}
