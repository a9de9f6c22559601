package memory

import (
	"sync"
	"testing"

	"meshcall/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubConn struct {
	domain.Connection
	mu     sync.Mutex
	closed int
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func newRegistry() *MemoryPeerRegistry {
	return NewMemoryPeerRegistry(zap.NewNop().Sugar()).(*MemoryPeerRegistry)
}

func TestUpsert_CreatesOnceAndRefreshesName(t *testing.T) {
	r := newRegistry()

	rec, created := r.Upsert("p1", "Bob")
	require.True(t, created)
	assert.Equal(t, "Bob", rec.DisplayName())
	assert.NotEmpty(t, rec.Generation)

	again, created := r.Upsert("p1", "Robert")
	assert.False(t, created)
	assert.Same(t, rec, again)
	assert.Equal(t, "Robert", again.DisplayName())

	again, _ = r.Upsert("p1", "")
	assert.Equal(t, "Robert", again.DisplayName())
	assert.Equal(t, 1, r.Len())
}

func TestRemove_ClosesAndIsIdempotent(t *testing.T) {
	r := newRegistry()
	rec, _ := r.Upsert("p1", "Bob")
	conn := &stubConn{}
	rec.AttachConn(conn)
	rec.QueueCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"})

	assert.True(t, r.Remove("p1"))
	assert.False(t, r.Remove("p1"))

	assert.Equal(t, 1, conn.closed)
	assert.True(t, rec.Closed())
	assert.Zero(t, rec.PendingCandidates())
	assert.False(t, r.Has("p1"))
	assert.Zero(t, r.Len())
}

func TestRemove_ThenUpsertStartsFresh(t *testing.T) {
	r := newRegistry()
	old, _ := r.Upsert("p1", "Bob")
	r.Remove("p1")

	fresh, created := r.Upsert("p1", "Bob")
	assert.True(t, created)
	assert.NotSame(t, old, fresh)
	assert.NotEqual(t, old.Generation, fresh.Generation)
}

func TestAllAndIDs_AreSnapshots(t *testing.T) {
	r := newRegistry()
	r.Upsert("c", "C")
	r.Upsert("a", "A")
	r.Upsert("b", "B")

	all := r.All()
	assert.Len(t, all, 3)
	delete(all, "a")
	assert.True(t, r.Has("a"))

	assert.Equal(t, []domain.PeerID{"a", "b", "c"}, r.IDs())
}

func TestUpsert_ConcurrentSingleRecord(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	createdCount := 0
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, created := r.Upsert("p1", "Bob"); created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Equal(t, 1, r.Len())
}
