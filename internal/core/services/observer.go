package services

import (
	"sync"

	"meshcall/internal/core/domain"
)

type NopObserver struct{}

func (NopObserver) OnConnectionState(domain.ConnectionState)   {}
func (NopObserver) OnParticipants([]domain.Participant)        {}
func (NopObserver) OnPeerState(domain.PeerID, domain.ICEState) {}
func (NopObserver) OnRemoteTrack(domain.RemoteTrack)           {}
func (NopObserver) OnHealth(domain.HealthSnapshot)             {}
func (NopObserver) OnEvent(domain.CallEvent)                   {}

// EventLog keeps the most recent call events and remote tracks for the
// control API.
type EventLog struct {
	mu       sync.RWMutex
	capacity int
	events   []domain.CallEvent
	tracks   map[domain.PeerID][]domain.RemoteTrack
	state    domain.ConnectionState
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &EventLog{
		capacity: capacity,
		events:   make([]domain.CallEvent, 0, capacity),
		tracks:   make(map[domain.PeerID][]domain.RemoteTrack),
		state:    domain.StateDisconnected,
	}
}

func (l *EventLog) OnConnectionState(state domain.ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
}

func (l *EventLog) OnParticipants(participants []domain.Participant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	present := make(map[domain.PeerID]struct{}, len(participants))
	for _, p := range participants {
		present[p.ID] = struct{}{}
	}
	for id := range l.tracks {
		if _, ok := present[id]; !ok {
			delete(l.tracks, id)
		}
	}
}

func (l *EventLog) OnPeerState(peerID domain.PeerID, state domain.ICEState) {
	if state != domain.ICEClosed {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tracks, peerID)
}

func (l *EventLog) OnRemoteTrack(track domain.RemoteTrack) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks[track.PeerID] = append(l.tracks[track.PeerID], track)
}

func (l *EventLog) OnHealth(domain.HealthSnapshot) {}

func (l *EventLog) OnEvent(event domain.CallEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)
}

// Events returns a copy, oldest first.
func (l *EventLog) Events() []domain.CallEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.CallEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *EventLog) Tracks(peerID domain.PeerID) []domain.RemoteTrack {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.RemoteTrack, len(l.tracks[peerID]))
	copy(out, l.tracks[peerID])
	return out
}

func (l *EventLog) State() domain.ConnectionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}
