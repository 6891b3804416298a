// Command digest_gen generates a deterministic dataset of task digests for
// standalone benchmarking of taskcache outside `go test`. It fabricates N
// synthetic TaskDescriptors (varying their name and command), computes
// each one's fingerprint, and emits the resulting digests one per line —
// input for external load-testers exercising ActionCache.ExecuteAction.
//
// Usage:
//
//	go run ./tools/digest_gen -n 100000 -seed 42 -out digests.txt
//
// © 2025 taskcache authors. MIT License.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"

	taskcache "github.com/kestrelbuild/taskcache/pkg"
)

func main() {
	var (
		n       = flag.Int("n", 100_000, "number of task digests to generate")
		seedVal = flag.Int64("seed", 42, "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var out *os.File
	if *outPath == "" {
		out = os.Stdout
	} else {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		td := taskcache.TaskDescriptor{
			Name:          fmt.Sprintf("task-%d", i),
			Command:       []string{"build", fmt.Sprintf("--shard=%d", i%64), fmt.Sprintf("--seed=%d", rnd.Uint32())},
			WorkingDir:    ".",
			SchemaVersion: 1,
		}
		digest, _, err := taskcache.ComputeFingerprint(td)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fingerprint error:", err)
			os.Exit(1)
		}
		fmt.Fprintln(w, digest)
	}
}
