package dispatch

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReporterConcurrentUpdates(t *testing.T) {
	rep := NewReporter()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				rep.Failed()
				rep.Removed(fmt.Sprintf("s%d", i))
			case 1:
				rep.Failed()
			default:
				rep.Delivered()
			}
		}(i)
	}
	wg.Wait()

	res := rep.Result()
	assert.Equal(t, 100, res.Success)
	assert.Equal(t, 100, res.Failure)
	assert.Len(t, res.Removed, 50)
}

func TestReporterEmptyResult(t *testing.T) {
	res := NewReporter().Result()
	assert.Zero(t, res.Success)
	assert.Zero(t, res.Failure)
	assert.NotNil(t, res.Removed)
}
