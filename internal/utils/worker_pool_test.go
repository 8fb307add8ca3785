package utils_test

import (
	"fmt"
	"netguard-backend/internal/utils"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunInPool(t *testing.T) {
	worker := func(i int) (string, error) {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return "", fmt.Errorf("error")
		}
		return fmt.Sprintf("%d-%d", i, i), nil
	}

	inputs := make([]int, 10)
	for i := range inputs {
		inputs[i] = i
	}

	success, errors := 0, 0
	for result := range utils.RunInPool(worker, inputs, 5) {
		if result.Error != nil {
			errors++
		} else {
			success++
		}
	}

	assert.Equal(t, 8, success)
	assert.Equal(t, 2, errors)
}

func TestRunInPool_BoundsWorkers(t *testing.T) {
	var running, peak atomic.Int32
	worker := func(int) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	}

	count := 0
	for range utils.RunInPool(worker, make([]int, 12), 3) {
		count++
	}

	assert.Equal(t, 12, count)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunInPool_NoInputs(t *testing.T) {
	worker := func(int) (int, error) { return 0, nil }

	count := 0
	for range utils.RunInPool(worker, nil, 4) {
		count++
	}
	assert.Zero(t, count)
}
