package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunBench(t *testing.T) {
	tests := []struct {
		name string
		opts benchOptions
	}{
		{"global only", benchOptions{Listeners: 20, Keys: 0, Priorities: 3, Iterations: 50, Seed: 7}},
		{"keyed", benchOptions{Listeners: 30, Keys: 4, Priorities: 5, Iterations: 100, Seed: 1}},
		{"single priority", benchOptions{Listeners: 10, Keys: 2, Priorities: 1, Iterations: 10, Seed: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runBench(tt.opts)
			if !res.OrderingOK {
				t.Fatalf("ordering failed: %s", res.Mismatch)
			}
			if res.Notifications != tt.opts.Iterations {
				t.Errorf("Notifications = %d", res.Notifications)
			}
			// The counter is global, so it runs once per notification.
			if res.Invocations != tt.opts.Iterations {
				t.Errorf("Invocations = %d, want %d", res.Invocations, tt.opts.Iterations)
			}
		})
	}
}

func TestExpectedOrder(t *testing.T) {
	all := []benchListener{
		{id: 0, priority: 1, key: -1},
		{id: 1, priority: 2, key: 0},
		{id: 2, priority: 1, key: 1},
		{id: 3, priority: 2, key: -1},
		{id: 4, priority: 1, key: 0},
	}
	got := expectedOrder(all, 0)
	want := []int{1, 3, 0, 4}
	if !equalInts(got, want) {
		t.Errorf("expectedOrder(0) = %v, want %v", got, want)
	}
	if got := expectedOrder(all, -1); !equalInts(got, []int{3, 0}) {
		t.Errorf("expectedOrder(global) = %v", got)
	}
}

func TestPrintBench(t *testing.T) {
	var buf bytes.Buffer
	printBench(&buf, benchResult{Options: benchOptions{Listeners: 5, Keys: 2}, OrderingOK: false, Notifications: 3})
	out := buf.String()
	if !strings.Contains(out, "Ordering:      FAILED") || !strings.Contains(out, "5 global, 5 keyed over 2 keys") {
		t.Errorf("output = %q", out)
	}
}
