// Package signaltest runs an in-process signaling relay that speaks both
// the websocket and the polling transport.
package signaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	id   string
	name string
	room string

	send  func(envelope) error
	close func()
}

// Relay routes join/offer/answer/candidate/ping traffic between clients.
type Relay struct {
	server *httptest.Server

	// Set to make the corresponding transport refuse connections.
	RejectWebSocket atomic.Bool
	RejectPolling   atomic.Bool
	// Set to drop join-room requests without answering.
	IgnoreJoins atomic.Bool
	// Number of upcoming join-room requests answered by closing the link.
	CloseOnJoin atomic.Int32
	// Checked on every websocket and polling open request, when set.
	Authorize func(r *http.Request) bool

	wsAttempts   atomic.Int64
	pollAttempts atomic.Int64

	mu      sync.Mutex
	clients map[string]*client
	polls   map[string]*pollSession
	rooms   map[string]map[string]*client
	seen    []envelope
}

func NewRelay() *Relay {
	r := &Relay{
		clients: make(map[string]*client),
		polls:   make(map[string]*pollSession),
		rooms:   make(map[string]map[string]*client),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWebSocket)
	mux.HandleFunc("/poll/open", r.handlePollOpen)
	mux.HandleFunc("/poll/send", r.handlePollSend)
	mux.HandleFunc("/poll/recv", r.handlePollRecv)
	mux.HandleFunc("/poll/close", r.handlePollClose)
	r.server = httptest.NewServer(mux)
	return r
}

func (r *Relay) Close() {
	r.mu.Lock()
	clients := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	r.server.Close()
}

func (r *Relay) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
}

func (r *Relay) PollURL() string {
	return r.server.URL + "/poll"
}

func (r *Relay) WebSocketAttempts() int { return int(r.wsAttempts.Load()) }
func (r *Relay) PollingAttempts() int   { return int(r.pollAttempts.Load()) }

// Members lists client ids currently joined to room.
func (r *Relay) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

// Seen returns the types of every envelope received from clients, in order.
func (r *Relay) Seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]string, len(r.seen))
	for i, e := range r.seen {
		types[i] = e.Type
	}
	return types
}

// Drop forcibly disconnects a client as if its link failed.
func (r *Relay) Drop(id string) bool {
	r.mu.Lock()
	c, ok := r.clients[id]
	r.mu.Unlock()
	if ok {
		c.close()
	}
	return ok
}

// Inject delivers a raw envelope to client id.
func (r *Relay) Inject(id, msgType string, payload interface{}) error {
	r.mu.Lock()
	c, ok := r.clients[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("client %s not connected", id)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.send(envelope{Type: msgType, Payload: raw})
}

func (r *Relay) authorized(req *http.Request) bool {
	return r.Authorize == nil || r.Authorize(req)
}

func (r *Relay) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	r.wsAttempts.Add(1)
	if r.RejectWebSocket.Load() {
		http.Error(w, "websocket disabled", http.StatusServiceUnavailable)
		return
	}
	if !r.authorized(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	var writeMu sync.Mutex
	var once sync.Once
	c := &client{id: newID()}
	c.send = func(e envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(e)
	}
	c.close = func() { once.Do(func() { conn.Close() }) }

	r.register(c)
	defer r.unregister(c)

	for {
		var e envelope
		if err := conn.ReadJSON(&e); err != nil {
			c.close()
			return
		}
		r.handle(c, e)
	}
}

type pollSession struct {
	client *client
	queue  chan envelope
	done   chan struct{}
}

func (r *Relay) handlePollOpen(w http.ResponseWriter, req *http.Request) {
	r.pollAttempts.Add(1)
	if req.Method != http.MethodPost || r.RejectPolling.Load() {
		http.Error(w, "polling disabled", http.StatusServiceUnavailable)
		return
	}
	if !r.authorized(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ps := &pollSession{queue: make(chan envelope, 256), done: make(chan struct{})}
	var once sync.Once
	c := &client{id: newID()}
	c.send = func(e envelope) error {
		select {
		case ps.queue <- e:
			return nil
		case <-ps.done:
			return fmt.Errorf("poll session closed")
		}
	}
	c.close = func() {
		once.Do(func() {
			close(ps.done)
			r.unregister(c)
		})
	}
	ps.client = c

	r.mu.Lock()
	r.polls[c.id] = ps
	r.mu.Unlock()
	r.register(c)

	writeJSON(w, map[string]string{"sid": c.id})
}

func (r *Relay) pollSession(req *http.Request) (*pollSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.polls[req.URL.Query().Get("sid")]
	return ps, ok
}

func (r *Relay) handlePollSend(w http.ResponseWriter, req *http.Request) {
	ps, ok := r.pollSession(req)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	var e envelope
	if err := json.NewDecoder(req.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.handle(ps.client, e)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Relay) handlePollRecv(w http.ResponseWriter, req *http.Request) {
	ps, ok := r.pollSession(req)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	batch := []envelope{}
	timeout := time.NewTimer(time.Second)
	defer timeout.Stop()

	select {
	case e := <-ps.queue:
		batch = append(batch, e)
	case <-ps.done:
		http.Error(w, "session closed", http.StatusGone)
		return
	case <-req.Context().Done():
		return
	case <-timeout.C:
	}
	for drained := false; !drained; {
		select {
		case e := <-ps.queue:
			batch = append(batch, e)
		default:
			drained = true
		}
	}
	writeJSON(w, batch)
}

func (r *Relay) handlePollClose(w http.ResponseWriter, req *http.Request) {
	if ps, ok := r.pollSession(req); ok {
		ps.client.close()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Relay) register(c *client) {
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()

	c.send(envelope{Type: "connected", Payload: mustJSON(map[string]string{"id": c.id})})
}

func (r *Relay) unregister(c *client) {
	r.mu.Lock()
	if r.clients[c.id] != c {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.id)
	delete(r.polls, c.id)
	var others []*client
	if members, ok := r.rooms[c.room]; ok {
		delete(members, c.id)
		for _, m := range members {
			others = append(others, m)
		}
	}
	r.mu.Unlock()

	left := envelope{Type: "user-left", Payload: mustJSON(map[string]string{"id": c.id, "displayName": c.name})}
	for _, m := range others {
		m.send(left)
	}
}

func (r *Relay) handle(from *client, e envelope) {
	r.mu.Lock()
	r.seen = append(r.seen, e)
	r.mu.Unlock()

	switch e.Type {
	case "join-room":
		if r.IgnoreJoins.Load() {
			return
		}
		if r.takeCloseOnJoin() {
			from.close()
			return
		}
		r.join(from, e)
	case "offer", "answer", "ice-candidate":
		r.forward(from, e, "to", "from")
	case "ping-request", "ping-response":
		r.forward(from, e, "targetId", "userId")
	default:
		from.send(errorEnvelope(fmt.Sprintf("unsupported message type %q", e.Type)))
	}
}

func (r *Relay) takeCloseOnJoin() bool {
	for {
		n := r.CloseOnJoin.Load()
		if n <= 0 {
			return false
		}
		if r.CloseOnJoin.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (r *Relay) join(c *client, e envelope) {
	var req struct {
		RoomID      string `json:"roomId"`
		DisplayName string `json:"displayName"`
	}
	if err := json.Unmarshal(e.Payload, &req); err != nil || req.RoomID == "" {
		c.send(errorEnvelope("invalid join-room payload"))
		return
	}

	type user struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}

	r.mu.Lock()
	c.room = req.RoomID
	c.name = req.DisplayName
	members, ok := r.rooms[req.RoomID]
	if !ok {
		members = make(map[string]*client)
		r.rooms[req.RoomID] = members
	}
	users := []user{}
	var others []*client
	for _, m := range members {
		users = append(users, user{ID: m.id, DisplayName: m.name})
		others = append(others, m)
	}
	members[c.id] = c
	r.mu.Unlock()

	c.send(envelope{Type: "room-joined", Payload: mustJSON(map[string]interface{}{"roomId": req.RoomID, "users": users})})
	joined := envelope{Type: "user-joined", Payload: mustJSON(user{ID: c.id, DisplayName: c.name})}
	for _, m := range others {
		m.send(joined)
	}
}

// forward rewrites the addressing field toKey into fromKey and delivers.
func (r *Relay) forward(from *client, e envelope, toKey, fromKey string) {
	var payload map[string]interface{}
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		from.send(errorEnvelope("invalid payload"))
		return
	}
	target, _ := payload[toKey].(string)

	r.mu.Lock()
	dest, ok := r.clients[target]
	r.mu.Unlock()
	if !ok {
		from.send(errorEnvelope(fmt.Sprintf("unknown target %q", target)))
		return
	}

	delete(payload, toKey)
	payload[fromKey] = from.id
	dest.send(envelope{Type: e.Type, Payload: mustJSON(payload)})
}

func errorEnvelope(message string) envelope {
	return envelope{Type: "error", Payload: mustJSON(map[string]string{"message": message})}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
