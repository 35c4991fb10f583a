// Package resolver finds a beach by id when its province is unknown, by
// scanning province beach lists in ascending province order.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
)

// ErrNotFound is matched by errors returned when no province lists the beach.
var ErrNotFound = errors.New("beach not found")

// Known province identifiers.
const (
	FirstProvinceID = 1
	LastProvinceID  = 10
)

// BeachLister lists the beaches of a province.
type BeachLister interface {
	GetBeachesByProvince(ctx context.Context, provinceID int) (*beach.BeachList, error)
}

// NotFoundError reports an exhausted scan. Failed lists the provinces whose
// lookup failed and were skipped.
type NotFoundError struct {
	BeachID int
	Failed  []int
}

func (e *NotFoundError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("beach %d not found", e.BeachID)
	}
	return fmt.Sprintf("beach %d not found (%d province lookups failed)", e.BeachID, len(e.Failed))
}

// Is makes every NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Location is a resolved beach and the province listing it.
type Location struct {
	Beach      beach.Beach
	ProvinceID int
}

// Config holds configuration for the resolver.
type Config struct {
	// Lister provides province beach lists (required).
	Lister BeachLister

	// ProvinceIDs is the scan order (default: 1..10).
	ProvinceIDs []int

	// Concurrency is the number of province lookups in flight; 1 or less scans sequentially.
	Concurrency int

	// Logger for resolver operations.
	Logger zerolog.Logger
}

// Resolver locates beaches across provinces.
type Resolver struct {
	lister      BeachLister
	provinceIDs []int
	concurrency int
	logger      zerolog.Logger
}

// ProvinceRange returns the ids first..last inclusive.
func ProvinceRange(first, last int) []int {
	if last < first {
		return nil
	}
	ids := make([]int, 0, last-first+1)
	for id := first; id <= last; id++ {
		ids = append(ids, id)
	}
	return ids
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	ids := cfg.ProvinceIDs
	if len(ids) == 0 {
		ids = ProvinceRange(FirstProvinceID, LastProvinceID)
	}

	return &Resolver{
		lister:      cfg.Lister,
		provinceIDs: ids,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// FindBeach returns the beach with the given id.
func (r *Resolver) FindBeach(ctx context.Context, beachID int) (*beach.Beach, error) {
	loc, err := r.Locate(ctx, beachID)
	if err != nil {
		return nil, err
	}
	return &loc.Beach, nil
}

// Locate returns the beach with the given id and the first province, in scan
// order, that lists it. Failed province lookups are skipped.
func (r *Resolver) Locate(ctx context.Context, beachID int) (*Location, error) {
	if err := beach.ValidateID(beachID); err != nil {
		return nil, fmt.Errorf("beach %d: %w", beachID, err)
	}
	if r.concurrency > 1 {
		return r.locateConcurrent(ctx, beachID)
	}
	return r.locateSequential(ctx, beachID)
}

func (r *Resolver) locateSequential(ctx context.Context, beachID int) (*Location, error) {
	var failed []int
	for _, provinceID := range r.provinceIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		list, err := r.lister.GetBeachesByProvince(ctx, provinceID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Debug().Err(err).Int("province_id", provinceID).Int("beach_id", beachID).Msg("province lookup failed, skipping")
			failed = append(failed, provinceID)
			continue
		}

		if b, ok := list.Find(beachID); ok {
			return &Location{Beach: *b, ProvinceID: provinceID}, nil
		}
	}

	return nil, &NotFoundError{BeachID: beachID, Failed: failed}
}

type lookup struct {
	settled bool
	found   *beach.Beach
	err     error
}

// locateConcurrent queries provinces in parallel but returns the same answer
// as a sequential scan: a match wins only once every earlier province has settled.
func (r *Resolver) locateConcurrent(parent context.Context, beachID int) (*Location, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make([]lookup, len(r.provinceIDs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, provinceID := range r.provinceIDs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			list, err := r.lister.GetBeachesByProvince(gctx, provinceID)

			mu.Lock()
			defer mu.Unlock()
			results[i].settled = true
			if err != nil {
				results[i].err = err
				return nil
			}
			if b, ok := list.Find(beachID); ok {
				results[i].found = b
			}
			if winner(results) >= 0 {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := parent.Err(); err != nil {
		return nil, err
	}

	if i := winner(results); i >= 0 {
		return &Location{Beach: *results[i].found, ProvinceID: r.provinceIDs[i]}, nil
	}

	var failed []int
	for i, res := range results {
		if res.err != nil {
			r.logger.Debug().Err(res.err).Int("province_id", r.provinceIDs[i]).Int("beach_id", beachID).Msg("province lookup failed, skipping")
			failed = append(failed, r.provinceIDs[i])
		}
	}
	return nil, &NotFoundError{BeachID: beachID, Failed: failed}
}

// winner returns the index of the first match whose predecessors have all
// settled without a match, or -1.
func winner(results []lookup) int {
	for i, res := range results {
		if !res.settled {
			return -1
		}
		if res.found != nil {
			return i
		}
	}
	return -1
}
