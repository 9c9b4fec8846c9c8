package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/omdb-search-client/pkg/omdb"
	"github.com/Sternrassler/omdb-search-client/pkg/pagination"
	"github.com/Sternrassler/omdb-search-client/pkg/poster"
	"github.com/Sternrassler/omdb-search-client/pkg/search"
	"github.com/Sternrassler/omdb-search-client/pkg/session"
)

// SearchCmd prints the first rows of a title search.
type SearchCmd struct {
	Term     string        `arg:"" help:"Title to search for."`
	Rows     int           `help:"Number of rows to print." default:"5" short:"n"`
	Policy   string        `help:"Paging policy (demand or eager); empty uses the config." default:""`
	Posters  bool          `help:"Prefetch the posters of printed rows."`
	Parallel int           `help:"Concurrent poster downloads." default:"4"`
	Timeout  time.Duration `help:"Give up after this long." default:"60s"`
}

// Run executes the search command.
func (c *SearchCmd) Run(g *Globals) error {
	if c.Rows < 1 {
		return fmt.Errorf("search: --rows must be >= 1")
	}
	switch pagination.Policy(c.Policy) {
	case "", pagination.PolicyDemand, pagination.PolicyEager:
	default:
		return fmt.Errorf("search: unknown policy %q", c.Policy)
	}

	a, err := g.setup(true)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	defer a.close()

	cfg := a.cfg.Session()
	if c.Policy != "" {
		cfg.Search.Engine.Policy = pagination.Policy(c.Policy)
	}

	s, err := session.New(a.client, poster.NewHTTPFetcher(nil), cfg)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	rows, err := c.collect(ctx, s)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for i, row := range rows {
		fmt.Fprintf(a.stdout, "%3d  %s\n", i, formatRow(row))
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.stdout, "no complete rows")
	}

	if c.Posters {
		n, failed := prefetchPosters(ctx, s, rows, c.Parallel)
		fmt.Fprintf(a.stdout, "posters: %d cached, %d failed\n", n, failed)
	}
	return nil
}

// collect reads rows as they arrive until enough are buffered or the
// search ends.
func (c *SearchCmd) collect(ctx context.Context, s *session.Session) ([][]omdb.Movie, error) {
	sub := s.Subscribe()
	defer sub.Close()

	s.Search(c.Term)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var rows [][]omdb.Movie
	for {
		for len(rows) < c.Rows && len(rows) < s.Size() {
			rows = append(rows, s.GetRow(len(rows)))
		}
		if len(rows) >= c.Rows {
			return rows, nil
		}

		state := s.Coordinator().State()
		if state.Terminal() && len(rows) >= s.Size() {
			err := s.Coordinator().Err()
			if err != nil && !errors.Is(err, pagination.ErrSearchFailed) {
				return rows, err
			}
			if err != nil && len(rows) == 0 {
				return rows, err
			}
			return rows, nil
		}
		if state == pagination.StateWaiting {
			s.Coordinator().Demand()
		}

		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		case <-sub.Updates():
		case <-ticker.C:
		}
	}
}

func formatRow(row []omdb.Movie) string {
	cells := make([]string, 0, search.RowWidth)
	for _, m := range row {
		cells = append(cells, fmt.Sprintf("%s (%s) [%s]", m.Title, m.Year, m.IMDbID))
	}
	return strings.Join(cells, " | ")
}

// prefetchPosters loads every poster of rows through the session cache.
func prefetchPosters(ctx context.Context, s *session.Session, rows [][]omdb.Movie, parallel int) (cached, failed int) {
	if parallel < 1 {
		parallel = 1
	}
	var ok, bad atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, row := range rows {
		for _, m := range row {
			if m.Poster == nil {
				continue
			}
			url := m.Poster.String()
			g.Go(func() error {
				if _, err := s.Posters().Load(gctx, url); err != nil {
					bad.Add(1)
					return nil
				}
				ok.Add(1)
				return nil
			})
		}
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

// PosterCmd downloads a single poster.
type PosterCmd struct {
	URL string `arg:"" help:"Poster URL."`
	Out string `help:"Write the image here instead of stdout." short:"o" type:"path"`
}

// Run executes the poster command.
func (c *PosterCmd) Run(g *Globals) error {
	a, err := g.setup(false)
	if err != nil {
		return fmt.Errorf("poster: %w", err)
	}
	defer a.close()

	cache, err := poster.New(poster.NewHTTPFetcher(nil), a.cfg.Session().Posters)
	if err != nil {
		return fmt.Errorf("poster: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	data, err := cache.Load(ctx, c.URL)
	if err != nil {
		return fmt.Errorf("poster: %w", err)
	}

	if c.Out == "" {
		_, err = a.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(c.Out, data, 0o644); err != nil {
		return fmt.Errorf("poster: write %s: %w", c.Out, err)
	}
	fmt.Fprintf(a.stdout, "wrote %d bytes to %s\n", len(data), c.Out)
	return nil
}

// QuotaCmd prints the shared request budget.
type QuotaCmd struct {
	Reset bool `help:"Clear the stored counter and exhausted flag."`
}

// Run executes the quota command.
func (c *QuotaCmd) Run(g *Globals) error {
	a, err := g.setup(false)
	if err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	defer a.close()

	if a.quota == nil {
		return fmt.Errorf("quota: tracking disabled (set quota.redis_addr or OMDB_QUOTA_REDIS_ADDR)")
	}

	ctx := context.Background()
	if c.Reset {
		if err := a.quota.Reset(ctx); err != nil {
			return fmt.Errorf("quota: %w", err)
		}
	}

	state, err := a.quota.GetState(ctx)
	if err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	fmt.Fprintf(a.stdout, "used %d of %d, %d remaining, resets in %s",
		state.Used, state.Limit, state.Remaining(), state.TimeUntilReset().Round(time.Second))
	if state.Exhausted {
		fmt.Fprint(a.stdout, " (exhausted)")
	}
	fmt.Fprintln(a.stdout)
	return nil
}
