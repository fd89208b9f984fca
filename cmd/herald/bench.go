package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/herald/internal/errors"
	"github.com/vango-dev/herald/pkg/notify"
)

type benchOptions struct {
	Listeners  int   `json:"listeners"`
	Keys       int   `json:"keys"`
	Priorities int   `json:"priorities"`
	Iterations int   `json:"iterations"`
	Seed       int64 `json:"seed"`
}

type benchResult struct {
	Options       benchOptions  `json:"options"`
	OrderingOK    bool          `json:"orderingOk"`
	Mismatch      string        `json:"mismatch,omitempty"`
	Notifications int           `json:"notifications"`
	Invocations   int           `json:"invocations"`
	Elapsed       time.Duration `json:"elapsedNs"`
	PerSecond     float64       `json:"notificationsPerSecond"`
}

func benchCmd() *cobra.Command {
	var (
		opts   benchOptions
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure dispatch throughput and check listener ordering",
		Long: `Register listeners with random priorities on global and keyed
scopes, verify every notification runs them in priority then
registration order, and report notifications per second.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Listeners <= 0 || opts.Iterations <= 0 || opts.Keys < 0 || opts.Priorities <= 0 {
				return errors.New("H900").WithDetail("--listeners, --iterations and --priorities must be positive; --keys must not be negative.")
			}
			res := runBench(opts)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printBench(os.Stdout, res)
			if !res.OrderingOK {
				return errors.Newf(errors.CategoryRuntime, "ordering check failed: %s", res.Mismatch)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Listeners, "listeners", "l", 100, "Listeners per scope")
	cmd.Flags().IntVarP(&opts.Keys, "keys", "k", 8, "Distinct keys")
	cmd.Flags().IntVarP(&opts.Priorities, "priorities", "p", 5, "Distinct priority levels")
	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", 10000, "Notifications to send")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "Random seed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

type benchListener struct {
	id       int
	priority int
	key      int // -1 for global
}

func runBench(opts benchOptions) benchResult {
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), 0))
	ctrl := notify.New(notify.WithName("bench"))
	defer ctrl.Dispose()

	var order []int
	record := true
	var registered []benchListener

	add := func(key int) {
		bl := benchListener{id: len(registered), priority: rng.IntN(opts.Priorities), key: key}
		registered = append(registered, bl)
		l := notify.Func(func() {
			if record {
				order = append(order, bl.id)
			}
		})
		if key < 0 {
			ctrl.AddListener(l, notify.Priority(bl.priority))
		} else {
			ctrl.AddListener(l, notify.Priority(bl.priority), notify.Key(key))
		}
	}
	for i := 0; i < opts.Listeners; i++ {
		add(-1)
		if opts.Keys > 0 {
			add(i % opts.Keys)
		}
	}

	res := benchResult{Options: opts, OrderingOK: true}

	// Ordering check: one global pass and one pass per key.
	for key := -1; key < opts.Keys; key++ {
		order = order[:0]
		if key < 0 {
			ctrl.Notify()
		} else {
			ctrl.NotifyKey(key, nil)
		}
		want := expectedOrder(registered, key)
		if !equalInts(order, want) {
			res.OrderingOK = false
			res.Mismatch = fmt.Sprintf("key %d: got %v, want %v", key, order, want)
			break
		}
	}

	record = false
	invocations := 0
	counter := notify.Func(func() { invocations++ })
	ctrl.AddListener(counter)

	start := time.Now()
	for i := 0; i < opts.Iterations; i++ {
		if opts.Keys == 0 || i%2 == 0 {
			ctrl.Notify()
		} else {
			ctrl.NotifyKey(i%opts.Keys, i)
		}
	}
	res.Elapsed = time.Since(start)
	res.Notifications = opts.Iterations
	res.Invocations = invocations
	if res.Elapsed > 0 {
		res.PerSecond = float64(opts.Iterations) / res.Elapsed.Seconds()
	}
	return res
}

// expectedOrder returns the ids of listeners that run for key (-1 = global
// pass) sorted by descending priority, then registration order.
func expectedOrder(all []benchListener, key int) []int {
	var out []benchListener
	for _, bl := range all {
		if bl.key < 0 || bl.key == key {
			out = append(out, bl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority > out[j].priority })
	ids := make([]int, len(out))
	for i, bl := range out {
		ids[i] = bl.id
	}
	return ids
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func printBench(w io.Writer, res benchResult) {
	status := "ok"
	if !res.OrderingOK {
		status = "FAILED"
	}
	fmt.Fprintf(w, "  Listeners:     %d global, %d keyed over %d keys\n", res.Options.Listeners, keyedCount(res.Options), res.Options.Keys)
	fmt.Fprintf(w, "  Ordering:      %s\n", status)
	fmt.Fprintf(w, "  Notifications: %d in %s\n", res.Notifications, res.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "  Invocations:   %d\n", res.Invocations)
	fmt.Fprintf(w, "  Throughput:    %.0f notifications/s\n", res.PerSecond)
}

func keyedCount(o benchOptions) int {
	if o.Keys == 0 {
		return 0
	}
	return o.Listeners
}
