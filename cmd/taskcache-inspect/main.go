// Command taskcache-inspect polls a running service's taskcache debug
// snapshot endpoint and prints its Statistics, either once, in a watch loop,
// or as JSON for scripting.
//
// The target service is expected to expose:
//   GET /debug/taskcache/snapshot — JSON-encoded cache.Statistics.
//
// © 2025 taskcache authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type options struct {
	target   string
	watch    bool
	interval time.Duration
	asJSON   bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://localhost:6060", "base URL of the service exposing the snapshot endpoint")
	flag.BoolVar(&opts.watch, "watch", false, "poll repeatedly instead of a single read")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "poll interval in watch mode")
	flag.BoolVar(&opts.asJSON, "json", false, "print the raw snapshot JSON instead of a formatted summary")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

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
	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/debug/taskcache/snapshot", nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Hits:             %v\n", data["Hits"])
	fmt.Printf("Misses:           %v\n", data["Misses"])
	fmt.Printf("Writes:           %v\n", data["Writes"])
	fmt.Printf("Removals:         %v\n", data["Removals"])
	fmt.Printf("Errors:           %v\n", data["Errors"])
	fmt.Printf("EntryCount:       %v\n", data["EntryCount"])
	fmt.Printf("TotalBytes:       %.2f MiB\n", toFloat(data["TotalBytes"])/(1<<20))
	fmt.Printf("ChecksumFailures: %v\n", data["ChecksumFailures"])
	fmt.Printf("WALRecoveries:    %v\n", data["WALRecoveries"])
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "taskcache-inspect:", err)
	os.Exit(1)
}
