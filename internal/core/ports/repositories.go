package ports

import (
	"meshcall/internal/core/domain"
)

// PeerRegistry is the single source of truth for remote participants.
type PeerRegistry interface {
	// Upsert returns the existing record for id or creates one. The display
	// name of an existing record is refreshed when non-empty.
	Upsert(id domain.PeerID, displayName string) (*domain.PeerRecord, bool)
	Get(id domain.PeerID) (*domain.PeerRecord, bool)
	Has(id domain.PeerID) bool
	All() map[domain.PeerID]*domain.PeerRecord
	// Remove closes the record's connection and drops it. Reports whether a record existed.
	Remove(id domain.PeerID) bool
	Len() int
	IDs() []domain.PeerID
}
