// Command dynacache-inspect polls a running embedder's
// /debug/dynacache/snapshot endpoint (pkg/dynacache.SnapshotHandler) and
// prints a summary of block-cache activity: creations, hits, misses,
// promotions, marks, frees, and approximate live host bytes. It also
// supports periodic watch mode and pprof snapshot download, following the
// teacher's cmd/arena-cache-inspect/main.go layout exactly.
//
// © 2025 dynablock-cache authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var version = "dev"

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]float64, error) {
	url := base + "/debug/dynacache/snapshot"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]float64
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]float64) error {
	fmt.Printf("Hits:          %.0f\n", data["dynacache_lookup_hits_total"])
	fmt.Printf("Misses:        %.0f\n", data["dynacache_lookup_misses_total"])
	fmt.Printf("Created:       %.0f\n", data["dynacache_blocks_created_total"])
	fmt.Printf("Promotions:    %.0f\n", data["dynacache_directory_promotions_total"])
	fmt.Printf("Marked:        %.0f\n", data["dynacache_blocks_marked_total"])
	fmt.Printf("Freed:         %.0f\n", data["dynacache_blocks_freed_total"])
	fmt.Printf("Invalidated:   %.0f\n", data["dynacache_rehash_invalidations_total"])
	fmt.Printf("Host bytes:    %.2f MB\n", data["dynacache_host_bytes"]/1_048_576)
	return nil
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "dynacache-inspect:", err)
	os.Exit(1)
}
