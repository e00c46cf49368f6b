// Package loadtest drives concurrent clients against a list service.
//
// Every client creates items through the single-item endpoints, so all of
// them race on the shared revision. A client whose revision is stale gets a
// conflict, refetches the list and retries, which is exactly what happens
// when several devices edit the same list.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/todosync/todosync/internal/item"
	"github.com/todosync/todosync/internal/remote"
)

// Options configures a load test run.
type Options struct {
	BaseURL      string
	Token        string
	Clients      int // concurrent clients (default 10)
	OpsPerClient int // items each client creates (default 10)
	MaxRetries   int // attempts per item before giving up (default 100)
	Logger       *log.Logger
}

// LatencyStats captures request latency from a load test.
type LatencyStats struct {
	Min           time.Duration
	Max           time.Duration
	Mean          time.Duration
	P50           time.Duration // Median
	P95           time.Duration
	P99           time.Duration
	TotalRequests int
	Durations     []time.Duration
}

// Result summarizes a run.
type Result struct {
	Latency   *LatencyStats
	Created   []string // ids the server accepted
	Conflicts int      // stale-revision rejections that were retried
	Errors    int      // items that could not be created
	Elapsed   time.Duration
}

// Run starts opts.Clients clients that each create opts.OpsPerClient items.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Clients <= 0 {
		opts.Clients = 10
	}
	if opts.OpsPerClient <= 0 {
		opts.OpsPerClient = 10
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 100
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[loadtest] ", log.LstdFlags)
	}

	clients := make([]*remote.Client, opts.Clients)
	for i := range clients {
		c, err := remote.New(remote.Options{
			BaseURL:  opts.BaseURL,
			Token:    opts.Token,
			ClientID: fmt.Sprintf("loadtest-%d", i),
			Logger:   log.New(io.Discard, "", 0),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create client %d: %w", i, err)
		}
		clients[i] = c
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		result    = &Result{}
	)

	start := time.Now()
	for i, c := range clients {
		wg.Add(1)
		go func(clientID int, c *remote.Client) {
			defer wg.Done()

			if _, _, err := c.FetchAll(ctx); err != nil {
				opts.Logger.Printf("client %d initial fetch failed: %v", clientID, err)
			}

			for _, it := range GenerateItems(clientID, opts.OpsPerClient) {
				took, conflicts, err := createWithRetry(ctx, c, it, opts.MaxRetries)

				mu.Lock()
				durations = append(durations, took...)
				result.Conflicts += conflicts
				if err != nil {
					result.Errors++
					opts.Logger.Printf("client %d failed to create %s: %v", clientID, it.ID, err)
				} else {
					result.Created = append(result.Created, it.ID)
				}
				mu.Unlock()
			}
		}(i, c)
	}
	wg.Wait()
	result.Elapsed = time.Since(start)

	if len(durations) == 0 {
		return nil, fmt.Errorf("no requests completed")
	}
	result.Latency = computeLatencyStats(durations)
	return result, nil
}

// createWithRetry creates it, refetching the list after each conflict. It
// returns the latency of every create attempt.
func createWithRetry(ctx context.Context, c *remote.Client, it item.Item, maxRetries int) ([]time.Duration, int, error) {
	var took []time.Duration
	conflicts := 0

	for attempt := 0; attempt < maxRetries; attempt++ {
		start := time.Now()
		_, _, err := c.CreateItem(ctx, it)
		took = append(took, time.Since(start))

		if err == nil {
			return took, conflicts, nil
		}
		if !errors.Is(err, remote.ErrConflict) {
			return took, conflicts, err
		}
		conflicts++
		if _, _, err := c.FetchAll(ctx); err != nil {
			return took, conflicts, fmt.Errorf("failed to refetch after conflict: %w", err)
		}
	}
	return took, conflicts, fmt.Errorf("gave up after %d conflicts", conflicts)
}

// GenerateItems returns count deterministic items for one client.
//
// Importance is weighted toward normal (unimportant 20%, normal 60%,
// important 20%) and every third item carries a deadline.
func GenerateItems(clientID, count int) []item.Item {
	weights := []item.Importance{
		item.Unimportant,
		item.Normal, item.Normal, item.Normal,
		item.Important,
	}
	base := time.Now().Add(-30 * 24 * time.Hour).Truncate(time.Second)

	items := make([]item.Item, count)
	for i := range items {
		created := base.Add(time.Duration(i) * time.Minute)
		opts := []item.Option{
			item.WithID(fmt.Sprintf("LOAD-%03d-%05d", clientID, i)),
			item.WithImportance(weights[i%len(weights)]),
			item.WithCreationDate(created),
		}
		if i%3 == 0 {
			opts = append(opts, item.WithDeadline(created.Add(7*24*time.Hour)))
		}
		items[i] = item.New(fmt.Sprintf("Load item %d from client %d", i, clientID), opts...)
	}
	return items
}

// VerifyConsistency checks that the server holds every id in created
// exactly once.
func VerifyConsistency(ctx context.Context, c *remote.Client, created []string) error {
	items, _, err := c.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch final list: %w", err)
	}

	seen := make(map[string]int, len(items))
	for _, it := range items {
		seen[it.ID]++
	}
	for _, id := range created {
		switch seen[id] {
		case 0:
			return fmt.Errorf("item %s missing from server", id)
		case 1:
		default:
			return fmt.Errorf("item %s stored %d times", id, seen[id])
		}
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:           sorted[0],
		Max:           sorted[len(sorted)-1],
		Mean:          sum / time.Duration(len(durations)),
		P50:           sorted[len(sorted)*50/100],
		P95:           sorted[len(sorted)*95/100],
		P99:           sorted[len(sorted)*99/100],
		TotalRequests: len(durations),
		Durations:     sorted,
	}
}

// PrintStats writes the result in a human-readable form.
func (r *Result) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Load Test Results:\n")
	fmt.Fprintf(w, "  Items Created: %d\n", len(r.Created))
	fmt.Fprintf(w, "  Conflicts:     %d\n", r.Conflicts)
	fmt.Fprintf(w, "  Errors:        %d\n", r.Errors)
	fmt.Fprintf(w, "  Elapsed:       %v\n", r.Elapsed)
	if s := r.Latency; s != nil {
		fmt.Fprintf(w, "  Requests:      %d\n", s.TotalRequests)
		fmt.Fprintf(w, "  Min:           %v\n", s.Min)
		fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
		fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
		fmt.Fprintf(w, "  P95:           %v\n", s.P95)
		fmt.Fprintf(w, "  P99:           %v\n", s.P99)
		fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	}
}
