package announce

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryConcurrentRegister(t *testing.T) {
	var r registry

	listeners := make([]*recordingListener, 20)
	for i := range listeners {
		listeners[i] = &recordingListener{}
	}

	var wg sync.WaitGroup
	for _, listener := range listeners {
		wg.Add(2)
		go func(listener *recordingListener) {
			defer wg.Done()
			r.add(listener)
		}(listener)
		go func(listener *recordingListener) {
			defer wg.Done()
			r.add(listener)
			_ = r.snapshot()
		}(listener)
	}
	wg.Wait()

	assert.Equal(t, len(listeners), r.len())
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	var r registry
	r.add(&recordingListener{})

	snapshot := r.snapshot()
	r.add(&recordingListener{})

	assert.Len(t, snapshot, 1)
	assert.Equal(t, 2, r.len())
}
