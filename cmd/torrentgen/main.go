// Command torrentgen hashes a file into a torrent descriptor JSON.
package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/avidal/gopher-torrent/internal/clicolor"
	"github.com/avidal/gopher-torrent/internal/metainfo"
)

func main() {
	os.Exit(run())
}

func run() int {
	inputPath := flag.String("file", "", "path to the file to hash")
	outputPath := flag.String("out", "", "path to write the descriptor JSON (default: stdout)")
	pieceLength := flag.Int64("piece-length", 1<<18, "piece length in bytes, must be a power of two")
	announce := flag.String("announce", "", "tracker announce URL")
	flag.Parse()

	if *inputPath == "" {
		clicolor.Fail(os.Stderr, "torrentgen: -file is required")
		return 1
	}

	descriptor, err := metainfo.FromPath(*inputPath, *pieceLength, *announce)
	if err != nil {
		clicolor.Fail(os.Stderr, "torrentgen: %v", err)
		return 1
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			clicolor.Fail(os.Stderr, "torrentgen: %v", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(descriptor); err != nil {
		clicolor.Fail(os.Stderr, "torrentgen: %v", err)
		return 1
	}

	if *outputPath != "" {
		clicolor.Success(os.Stdout, "wrote descriptor for %s (info_hash=%s) to %s", descriptor.Name, descriptor.InfoHash, *outputPath)
	}
	return 0
}
