package querycount

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounter_Aggregates(t *testing.T) {
	_, counter := Open(context.Background())

	events := []Event{
		{"default", "SELECT 1", 10 * time.Millisecond},
		{"default", "SELECT 2", 20 * time.Millisecond},
		{"default", "SELECT 1", 10 * time.Millisecond},
		{"replica", "SELECT 3", 50 * time.Millisecond},
	}
	for _, ev := range events {
		if err := counter.Record(ev.Alias, ev.Identity, ev.Duration); err != nil {
			t.Fatalf("Record(%v) failed: %v", ev, err)
		}
	}
	counter.Close()

	counts := counter.TotalQueryCountByAlias()
	if counts["default"] != 3 || counts["replica"] != 1 || len(counts) != 2 {
		t.Errorf("TotalQueryCountByAlias() = %v, want map[default:3 replica:1]", counts)
	}

	seconds := counter.TotalDurationSecondsByAlias()
	if math.Abs(seconds["default"]-0.04) > 1e-9 {
		t.Errorf("duration[default] = %v, want 0.04", seconds["default"])
	}
	if math.Abs(seconds["replica"]-0.05) > 1e-9 {
		t.Errorf("duration[replica] = %v, want 0.05", seconds["replica"])
	}

	dups := counter.TotalDuplicateCountByAlias()
	if dups["default"] != 1 || dups["replica"] != 0 {
		t.Errorf("TotalDuplicateCountByAlias() = %v, want map[default:1 replica:0]", dups)
	}

	dupEvents := counter.Duplicates()
	if len(dupEvents) != 1 || dupEvents[0] != events[2] {
		t.Errorf("Duplicates() = %v, want [%v]", dupEvents, events[2])
	}
}

func TestCounter_ReadsAreRepeatable(t *testing.T) {
	_, counter := Open(context.Background())
	_ = counter.Record("default", "SELECT 1", time.Millisecond)
	_ = counter.Record("default", "SELECT 1", time.Millisecond)
	counter.Close()

	first := fmt.Sprint(counter.TotalQueryCountByAlias(), counter.TotalDurationByAlias(), counter.TotalDuplicateCountByAlias())
	second := fmt.Sprint(counter.TotalQueryCountByAlias(), counter.TotalDurationByAlias(), counter.TotalDuplicateCountByAlias())

	if first != second {
		t.Errorf("aggregate reads changed between calls: %q vs %q", first, second)
	}

	// Mutating a returned map must not leak into the counter.
	counter.TotalQueryCountByAlias()["default"] = 100
	if got := counter.TotalQueryCountByAlias()["default"]; got != 2 {
		t.Errorf("count[default] = %d after mutating returned map, want 2", got)
	}
}

func TestCounter_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	aliases := []string{"default", "replica", "analytics"}

	for round := 0; round < 50; round++ {
		_, counter := Open(context.Background())

		wantCount := map[string]int{}
		wantDuration := map[string]time.Duration{}
		distinct := map[string]map[string]struct{}{}

		n := rng.Intn(200)
		for i := 0; i < n; i++ {
			alias := aliases[rng.Intn(len(aliases))]
			identity := fmt.Sprintf("SELECT %d", rng.Intn(10))
			d := time.Duration(rng.Intn(1000)) * time.Microsecond

			if err := counter.Record(alias, identity, d); err != nil {
				t.Fatalf("Record failed: %v", err)
			}

			wantCount[alias]++
			wantDuration[alias] += d
			if distinct[alias] == nil {
				distinct[alias] = map[string]struct{}{}
			}
			distinct[alias][identity] = struct{}{}
		}
		counter.Close()

		counts := counter.TotalQueryCountByAlias()
		durations := counter.TotalDurationByAlias()
		dups := counter.TotalDuplicateCountByAlias()

		for _, alias := range aliases {
			if counts[alias] != wantCount[alias] {
				t.Errorf("round %d: count[%s] = %d, want %d", round, alias, counts[alias], wantCount[alias])
			}
			if durations[alias] != wantDuration[alias] {
				t.Errorf("round %d: duration[%s] = %v, want %v", round, alias, durations[alias], wantDuration[alias])
			}
			if want := wantCount[alias] - len(distinct[alias]); dups[alias] != want {
				t.Errorf("round %d: duplicates[%s] = %d, want %d", round, alias, dups[alias], want)
			}
		}
	}
}

func TestCounter_DuplicatesArePerAlias(t *testing.T) {
	_, counter := Open(context.Background())
	defer counter.Close()

	_ = counter.Record("default", "SELECT 1", 0)
	_ = counter.Record("replica", "SELECT 1", 0)

	dups := counter.TotalDuplicateCountByAlias()
	if dups["default"] != 0 || dups["replica"] != 0 {
		t.Errorf("same identity on different aliases counted as duplicate: %v", dups)
	}
}

func TestCounter_Record_Errors(t *testing.T) {
	_, counter := Open(context.Background())

	err := counter.Record("default", "SELECT 1", -time.Millisecond)
	if !errors.Is(err, ErrNegativeDuration) {
		t.Errorf("Record with negative duration: got %v, want ErrNegativeDuration", err)
	}
	if got := counter.TotalQueryCountByAlias()["default"]; got != 0 {
		t.Errorf("rejected event was counted: count = %d", got)
	}

	if err := counter.Record("default", "SELECT 1", 0); err != nil {
		t.Errorf("zero duration should be accepted, got %v", err)
	}

	counter.Close()
	if err := counter.Record("default", "SELECT 1", 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close: got %v, want ErrClosed", err)
	}
}

func TestCounter_WithNormalizer(t *testing.T) {
	shape := func(identity string) string {
		if i := strings.Index(identity, "="); i >= 0 {
			return identity[:i]
		}
		return identity
	}

	tests := []struct {
		name     string
		opts     []Option
		wantDups int
	}{
		{name: "raw identity", opts: nil, wantDups: 0},
		{name: "normalized identity", opts: []Option{WithNormalizer(shape)}, wantDups: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, counter := Open(context.Background(), tt.opts...)
			_ = counter.Record("default", "SELECT * FROM item WHERE id=1", 0)
			_ = counter.Record("default", "SELECT * FROM item WHERE id=2", 0)
			counter.Close()

			if got := counter.TotalDuplicateCountByAlias()["default"]; got != tt.wantDups {
				t.Errorf("duplicates = %d, want %d", got, tt.wantDups)
			}
			// Events keep the raw identity regardless of normalization.
			if ev := counter.Events()[1]; ev.Identity != "SELECT * FROM item WHERE id=2" {
				t.Errorf("event identity = %q, want raw text", ev.Identity)
			}
		})
	}
}

func TestCounter_ConcurrentRecord(t *testing.T) {
	ctx, counter := Open(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := OnQueryExecuted(ctx, "default", fmt.Sprintf("SELECT %d", j), time.Microsecond); err != nil {
					t.Errorf("OnQueryExecuted failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
	counter.Close()

	if got := counter.TotalQueryCountByAlias()["default"]; got != 800 {
		t.Errorf("count = %d, want 800", got)
	}
	if got := counter.TotalDuplicateCountByAlias()["default"]; got != 700 {
		t.Errorf("duplicates = %d, want 700", got)
	}
}
