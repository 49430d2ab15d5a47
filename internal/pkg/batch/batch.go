// Package batch splits work into fixed-size batches and processes them on a
// bounded worker pool, preserving input order in the output.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Config configures batch processing.
type Config struct {
	// Size is the maximum batch size.
	Size int

	// Workers is the number of parallel workers.
	Workers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Size:    256,
		Workers: 4,
	}
}

// Processor processes items in batches with optional parallelism.
type Processor[T any, R any] struct {
	cfg     Config
	process func(ctx context.Context, batch []T) ([]R, error)
}

// NewProcessor creates a new batch processor.
func NewProcessor[T any, R any](cfg Config, process func(ctx context.Context, batch []T) ([]R, error)) *Processor[T, R] {
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	return &Processor[T, R]{
		cfg:     cfg,
		process: process,
	}
}

// Process processes all items and returns the concatenated results in
// input order. The first error cancels the remaining batches.
func (p *Processor[T, R]) Process(ctx context.Context, items []T) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}

	batches := Split(items, p.cfg.Size)

	if p.cfg.Workers <= 1 || len(batches) == 1 {
		return p.processSequential(ctx, batches)
	}

	return p.processParallel(ctx, batches)
}

func (p *Processor[T, R]) processSequential(ctx context.Context, batches [][]T) ([]R, error) {
	var results []R

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batchResults, err := p.process(ctx, b)
		if err != nil {
			return nil, err
		}
		results = append(results, batchResults...)
	}

	return results, nil
}

func (p *Processor[T, R]) processParallel(ctx context.Context, batches [][]T) ([]R, error) {
	results := make([][]R, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, b := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := p.process(gctx, b)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	flat := make([]R, 0, total)
	for _, r := range results {
		flat = append(flat, r...)
	}

	return flat, nil
}

// Split splits items into batches of the given size.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		batches = append(batches, items[i:end])
	}

	return batches
}
