// Command importtorrent converts a legacy bencoded .torrent file into
// this system's JSON descriptor format.
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
	inputPath := flag.String("file", "", "path to the legacy .torrent file")
	outputPath := flag.String("out", "", "path to write the descriptor JSON (default: stdout)")
	flag.Parse()

	if *inputPath == "" {
		clicolor.Fail(os.Stderr, "importtorrent: -file is required")
		return 1
	}

	in, err := os.Open(*inputPath)
	if err != nil {
		clicolor.Fail(os.Stderr, "importtorrent: %v", err)
		return 1
	}
	defer in.Close()

	descriptor, err := metainfo.ImportBencode(in)
	if err != nil {
		clicolor.Fail(os.Stderr, "importtorrent: %v", err)
		return 1
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			clicolor.Fail(os.Stderr, "importtorrent: %v", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(descriptor); err != nil {
		clicolor.Fail(os.Stderr, "importtorrent: %v", err)
		return 1
	}

	if *outputPath != "" {
		clicolor.Success(os.Stdout, "imported %s (info_hash=%s) to %s", descriptor.Name, descriptor.InfoHash, *outputPath)
	}
	return 0
}
