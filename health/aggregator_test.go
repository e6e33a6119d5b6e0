package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fixed(name string, r Result) Checker {
	return NewCheckerFunc(name, func(context.Context) Result { return r })
}

func TestAggregator_RegisterKeepsOrder(t *testing.T) {
	agg := NewAggregator()
	agg.Register(fixed("b", Healthy("ok")))
	agg.Register(fixed("a", Healthy("ok")))
	agg.Register(fixed("b", Degraded("replaced")))

	names := agg.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Errorf("Names() = %v, want [b a]", names)
	}

	r, err := agg.Check(context.Background(), "b")
	if err != nil || r.Status != StatusDegraded {
		t.Errorf("Check(b) = (%v, %v), want replaced degraded checker", r.Status, err)
	}
}

func TestAggregator_CheckNotFound(t *testing.T) {
	if _, err := NewAggregator().Check(context.Background(), "missing"); !errors.Is(err, ErrCheckerNotFound) {
		t.Errorf("err = %v, want ErrCheckerNotFound", err)
	}
}

func TestAggregator_CheckAllOverall(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", checkers: []Checker{fixed("a", Healthy("")), fixed("b", Healthy(""))}, want: StatusHealthy},
		{name: "one degraded", checkers: []Checker{fixed("a", Healthy("")), fixed("b", Degraded(""))}, want: StatusDegraded},
		{name: "one unhealthy", checkers: []Checker{fixed("a", Degraded("")), fixed("b", Unhealthy("", nil))}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			for _, c := range tt.checkers {
				agg.Register(c)
			}
			results := agg.CheckAll(context.Background())
			if len(results) != len(tt.checkers) {
				t.Fatalf("got %d results, want %d", len(results), len(tt.checkers))
			}
			if got := Overall(results); got != tt.want {
				t.Errorf("Overall() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregator_Timeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 20 * time.Millisecond})
	block := make(chan struct{})
	defer close(block)

	agg.Register(NewCheckerFunc("stuck", func(context.Context) Result {
		<-block
		return Healthy("late")
	}))
	agg.Register(fixed("fine", Healthy("ok")))

	results := agg.CheckAll(context.Background())
	if r := results["stuck"]; r.Status != StatusUnhealthy || !errors.Is(r.Error, ErrCheckTimeout) {
		t.Errorf("stuck = %+v, want timeout", r)
	}
	if results["fine"].Status != StatusHealthy {
		t.Errorf("fine = %v", results["fine"].Status)
	}
}

func TestAggregator_ConcurrencyLimit(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Concurrency: 1})

	var running, peak atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		agg.Register(NewCheckerFunc(name, func(context.Context) Result {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return Healthy("")
		}))
	}

	agg.CheckAll(context.Background())
	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrency = %d, want 1", got)
	}
}

func TestAggregator_Checker(t *testing.T) {
	agg := NewAggregator()
	agg.Register(fixed("cache", Healthy("")))
	agg.Register(fixed("ratelimit", Degraded("")))

	c := agg.Checker()
	r := c.Check(context.Background())
	if c.Name() != "aggregate" || r.Status != StatusDegraded {
		t.Errorf("aggregate = (%s, %v)", c.Name(), r.Status)
	}
	if r.Details["ratelimit"] != "degraded" {
		t.Errorf("Details = %v", r.Details)
	}
}
