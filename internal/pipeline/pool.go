package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// inFlightPerWorker bounds how far the fastest worker may run ahead of the
// oldest unconsumed frame.
const inFlightPerWorker = 4

type task[In any] struct {
	index int
	in    In
}

type result[Out any] struct {
	index int
	out   Out
}

// parallelOrdered fans the items emitted by produce out to a pool of workers
// and hands their results to consume in emission order. Items are numbered
// from zero. The first error from any stage cancels the others.
func parallelOrdered[In, Out any](
	ctx context.Context,
	workers int,
	produce func(ctx context.Context, emit func(In) error) error,
	work func(ctx context.Context, index int, in In) (Out, error),
	consume func(index int, out Out) error,
) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)

	tasks := make(chan task[In], workers)
	results := make(chan result[Out], workers*2)
	slots := make(chan struct{}, workers*inFlightPerWorker)

	g.Go(func() error {
		defer close(tasks)
		next := 0
		return produce(ctx, func(in In) error {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case tasks <- task[In]{index: next, in: in}:
				next++
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for t := range tasks {
				out, err := work(ctx, t.index, t.in)
				if err != nil {
					return err
				}
				select {
				case results <- result[Out]{index: t.index, out: out}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		// Reorder buffer: worker 2 may finish before worker 1.
		buffer := make(map[int]Out)
		next := 0
		for res := range results {
			buffer[res.index] = res.out
			for {
				out, ok := buffer[next]
				if !ok {
					break
				}
				delete(buffer, next)
				if err := consume(next, out); err != nil {
					return err
				}
				<-slots
				next++
			}
		}
		return nil
	})

	return g.Wait()
}
