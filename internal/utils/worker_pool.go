package utils

import "sync"

type CompletedTask[T any] struct {
	Result T
	Error  error
}

// RunInPool runs worker over every input using at most maxWorkers goroutines.
// The returned channel yields one CompletedTask per input and is closed once all
// inputs are processed.
func RunInPool[In any, Out any](worker func(In) (Out, error), inputs []In, maxWorkers int) <-chan CompletedTask[Out] {
	queue := make(chan In, len(inputs))
	for _, in := range inputs {
		queue <- in
	}
	close(queue)

	completed := make(chan CompletedTask[Out], len(inputs))
	workers := max(min(len(inputs), maxWorkers), 1)

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for next := range queue {
					res, err := worker(next)
					completed <- CompletedTask[Out]{Result: res, Error: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()

	return completed
}
