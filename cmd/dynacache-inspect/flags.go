package main

// flags.go defines options and parseFlags for the inspector CLI. The
// teacher's main.go (cmd/arena-cache-inspect) references parseFlags()
// without defining it anywhere in the retrieved source, so this is authored
// fresh, in the same shape main.go already assumes: a target URL, a
// watch/interval pair, a json toggle, and the two pprof download flags.
//
// © 2025 dynablock-cache authors. MIT License.

import (
	"flag"
	"time"
)

type options struct {
	version          bool
	target           string
	json             bool
	watch            bool
	interval         time.Duration
	heapProfile      string
	goroutineProfile string
}

func parseFlags() *options {
	opts := &options{}
	flag.BoolVar(&opts.version, "version", false, "print the inspector version and exit")
	flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the process exposing /debug/dynacache/snapshot")
	flag.BoolVar(&opts.json, "json", false, "print the raw JSON snapshot instead of a formatted summary")
	flag.BoolVar(&opts.watch, "watch", false, "poll the target repeatedly instead of a single snapshot")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "polling interval when -watch is set")
	flag.StringVar(&opts.heapProfile, "heap-profile", "", "download a heap pprof profile to this path and exit")
	flag.StringVar(&opts.goroutineProfile, "goroutine-profile", "", "download a goroutine pprof profile to this path and exit")
	flag.Parse()
	return opts
}
