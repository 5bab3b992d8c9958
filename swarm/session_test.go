package swarm

import (
	"sync"
	"testing"

	"erri120/goannounce/protocol"

	"github.com/stretchr/testify/assert"
)

func TestSessionCounters(t *testing.T) {
	session := New(protocol.InfoHash{0x01}, 100)

	session.AddUploaded(10)
	session.AddUploaded(-5)
	session.AddDownloaded(40)

	assert.Equal(t, protocol.InfoHash{0x01}, session.InfoHash())
	assert.EqualValues(t, 10, session.Uploaded())
	assert.EqualValues(t, 40, session.Downloaded())
	assert.EqualValues(t, 60, session.Left())

	session.AddDownloaded(100)
	assert.EqualValues(t, 0, session.Left())

	session.SetLeft(-1)
	assert.EqualValues(t, 0, session.Left())
}

func TestSessionConcurrentUpdates(t *testing.T) {
	session := New(protocol.InfoHash{}, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				session.AddDownloaded(1)
				session.AddUploaded(2)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 100, session.Downloaded())
	assert.EqualValues(t, 200, session.Uploaded())
	assert.EqualValues(t, 900, session.Left())
}
