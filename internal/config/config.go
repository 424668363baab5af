// Package config defines the per-executable configuration structs, each
// loadable from a YAML file with flag overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Timeouts is the fixed timeout budget embedded by the seeder's and the
// downloader's configs.
type Timeouts struct {
	Connect     time.Duration `yaml:"connect"`
	Message     time.Duration `yaml:"message"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
	Inactivity  time.Duration `yaml:"inactivity"`
}

// DefaultTimeouts returns the standard budget: connect 10s, per-message
// I/O 5s, keep-alive expected every <=120s.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:    10 * time.Second,
		Message:    5 * time.Second,
		KeepAlive:  120 * time.Second,
		Inactivity: 120 * time.Second,
	}
}

// Tracker is cmd/tracker's configuration.
type Tracker struct {
	ListenAddr      string        `yaml:"listen_addr"`
	SQLitePath      string        `yaml:"sqlite_path"`
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	StalePeerAge    time.Duration `yaml:"stale_peer_age"`
	MaxPeersReturned int          `yaml:"max_peers_returned"`
}

// DefaultTracker returns the tracker defaults: 1800s interval, 2h
// stale-peer age, 50 peers per response.
func DefaultTracker() Tracker {
	return Tracker{
		ListenAddr:       ":8080",
		SQLitePath:       "tracker.db",
		AnnounceInterval: 1800 * time.Second,
		StalePeerAge:     2 * time.Hour,
		MaxPeersReturned: 50,
	}
}

// Seeder is cmd/seeder's configuration.
type Seeder struct {
	ListenAddr string   `yaml:"listen_addr"`
	FilePath   string   `yaml:"file_path"`
	Timeouts   Timeouts `yaml:"timeouts"`
}

// Downloader is cmd/downloader's configuration.
type Downloader struct {
	MaxPeers  int      `yaml:"max_peers"`
	OutputDir string   `yaml:"output_dir"`
	Timeouts  Timeouts `yaml:"timeouts"`
}

// DefaultDownloader returns the downloader defaults: 3 initial peers.
func DefaultDownloader() Downloader {
	return Downloader{MaxPeers: 3, OutputDir: ".", Timeouts: DefaultTimeouts()}
}

// DefaultSeeder returns the seeder defaults.
func DefaultSeeder() Seeder {
	return Seeder{ListenAddr: ":6881", Timeouts: DefaultTimeouts()}
}

// Load decodes a YAML config file at path into out. A missing file is
// not an error: out keeps whatever defaults the caller pre-populated it
// with, matching CLIs that work fine with zero configuration.
func Load(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return nil
}
