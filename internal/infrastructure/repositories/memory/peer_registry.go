package memory

import (
	"sort"
	"sync"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/utils"

	"go.uber.org/zap"
)

type MemoryPeerRegistry struct {
	peers  map[domain.PeerID]*domain.PeerRecord
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

func NewMemoryPeerRegistry(logger *zap.SugaredLogger) ports.PeerRegistry {
	return &MemoryPeerRegistry{
		peers:  make(map[domain.PeerID]*domain.PeerRecord),
		logger: logger,
	}
}

func (r *MemoryPeerRegistry) Upsert(id domain.PeerID, displayName string) (*domain.PeerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, exists := r.peers[id]; exists {
		rec.SetDisplayName(displayName)
		return rec, false
	}

	rec := domain.NewPeerRecord(id, displayName, utils.NewGeneration())
	r.peers[id] = rec
	r.logger.Debugw("peer record created", "peer_id", id, "generation", rec.Generation)
	return rec, true
}

func (r *MemoryPeerRegistry) Get(id domain.PeerID) (*domain.PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.peers[id]
	return rec, exists
}

func (r *MemoryPeerRegistry) Has(id domain.PeerID) bool {
	_, exists := r.Get(id)
	return exists
}

func (r *MemoryPeerRegistry) All() map[domain.PeerID]*domain.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[domain.PeerID]*domain.PeerRecord, len(r.peers))
	for id, rec := range r.peers {
		snapshot[id] = rec
	}
	return snapshot
}

func (r *MemoryPeerRegistry) Remove(id domain.PeerID) bool {
	r.mu.Lock()
	rec, exists := r.peers[id]
	if exists {
		delete(r.peers, id)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	if err := rec.Close(); err != nil {
		r.logger.Warnw("failed to close peer connection", "peer_id", id, "error", err)
	}
	r.logger.Debugw("peer record removed", "peer_id", id, "generation", rec.Generation)
	return true
}

func (r *MemoryPeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// IDs returns identities in sorted order.
func (r *MemoryPeerRegistry) IDs() []domain.PeerID {
	r.mu.RLock()
	ids := make([]domain.PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
