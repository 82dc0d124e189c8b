package copytask

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
)

// RunPool runs every worker on its own pool goroutine and waits for all of
// them to drain the queue.
func RunPool(ctx context.Context, workers []*Worker) error {
	if len(workers) == 0 {
		return nil
	}
	pool, err := ants.NewPool(len(workers))
	if err != nil {
		return errors.Wrap(err, "creating worker pool")
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		if submitErr := pool.Submit(func() {
			defer wg.Done()
			w.Run(ctx)
		}); submitErr != nil {
			wg.Done()
			wg.Wait()
			return errors.Wrapf(submitErr, "starting %s", w.Name)
		}
	}
	wg.Wait()
	return nil
}
