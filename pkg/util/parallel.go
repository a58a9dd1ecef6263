package util

import (
	"context"
	"errors"
	"sync"
)

// ForEachParallel runs fn over all inputs with at most workerLimit goroutines.
// Unlike a fail-fast fan-out, every input is attempted even when some fail;
// the collected errors are joined and returned at the end. Used for
// best-effort batch work such as saving every guild's snapshot.
func ForEachParallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}
	if workerLimit <= 0 {
		workerLimit = 1
	}

	tasks := make(chan T)
	var (
		errMu sync.Mutex
		errs  []error
	)

	wg := sync.WaitGroup{}
	for i := 0; i < workerLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
			}
		}()
	}

feed:
	for _, item := range inputs {
		select {
		case <-ctx.Done():
			errMu.Lock()
			errs = append(errs, ctx.Err())
			errMu.Unlock()
			break feed
		case tasks <- item:
		}
	}
	close(tasks)
	wg.Wait()

	return errors.Join(errs...)
}
