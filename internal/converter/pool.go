package converter

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 4

type Converter interface {
	Convert(ctx context.Context, src string) (string, error)
}

type Result struct {
	Source string
	Output string
	Err    error
}

// Pool runs conversions on a fixed number of workers.
type Pool struct {
	conv    Converter
	workers int
}

func NewPool(conv Converter, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{conv: conv, workers: workers}
}

// Run converts every path and calls onSettled once per path, in completion
// order, from the calling goroutine. A failed conversion does not affect
// the others.
func (p *Pool) Run(ctx context.Context, paths []string, onSettled func(Result)) {
	results := make(chan Result, len(paths))

	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(p.workers)
		for _, src := range paths {
			g.Go(func() error {
				results <- p.convertOne(ctx, src)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for res := range results {
		onSettled(res)
	}
}

func (p *Pool) convertOne(ctx context.Context, src string) (res Result) {
	res.Source = src
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in converter",
				slog.String("source", src),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			res.Err = fmt.Errorf("convert %s: panic: %v", src, r)
		}
	}()

	res.Output, res.Err = p.conv.Convert(ctx, src)
	return res
}
