package engine

import "golang.org/x/sync/errgroup"

// forEachGroup calls fn for every group index in [0, n). With more than one
// worker the calls run concurrently; fn must only write state owned by its
// index. The error returned is always the one of the lowest failing index,
// so results do not depend on scheduling.
func (e *Engine) forEachGroup(n int, fn func(i int) error) error {
	if e.workers <= 1 || n < 2 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = fn(i)
			return errs[i]
		})
	}
	if g.Wait() == nil {
		return nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
