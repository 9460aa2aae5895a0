package intake

import (
	"log"
	"sync"

	"pixdesk/internal/sink"
)

// Registry owns the "at most one open session per owner" invariant. It is the
// only shared mutable structure in the intake flow; everything goes through
// Open/Get/DropChannel so tests can inject a fresh instance per case.
type Registry struct {
	cfg      Config
	sink     sink.Sink
	notifier Notifier
	limiter  RateLimiter

	mu        sync.Mutex
	byOwner   map[string]*Session
	byID      map[string]*Session
	byChannel map[string]*Session
}

func NewRegistry(cfg Config, snk sink.Sink, notifier Notifier, limiter RateLimiter) *Registry {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if limiter == nil {
		limiter = NewMemoryLimiter(cfg.WarnCooldown)
	}
	return &Registry{
		cfg:       cfg,
		sink:      snk,
		notifier:  notifier,
		limiter:   limiter,
		byOwner:   make(map[string]*Session),
		byID:      make(map[string]*Session),
		byChannel: make(map[string]*Session),
	}
}

// Open creates the owner's session, or returns DuplicateSessionError carrying
// the one that already exists. Sessions sitting in their terminal grace
// period do not block a fresh open; they are retired on the spot.
func (r *Registry) Open(ownerID, channelRef string) (*Session, error) {
	r.mu.Lock()

	if existing, ok := r.byOwner[ownerID]; ok {
		if !existing.State().Terminal() {
			dup := &DuplicateSessionError{SessionID: existing.ID, ChannelRef: existing.ChannelRef}
			r.mu.Unlock()
			return nil, dup
		}
		r.dropLocked(existing)
	}

	s := newSession(ownerID, channelRef, r.cfg, r.sink, r.notifier, r.limiter, r.retire)
	r.byOwner[ownerID] = s
	r.byID[s.ID] = s
	r.byChannel[channelRef] = s
	r.mu.Unlock()

	go r.notifier.Notify(ownerID, Notice{Kind: NoticeOpened, SessionID: s.ID, ChannelRef: channelRef, Message: "ticket opened, pick your Pix key type"})
	log.Printf("[INTAKE] Session %s opened for owner %s", s.ID, ownerID)
	return s, nil
}

// Get looks a session up by id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	return s, ok
}

// GetByOwner looks a session up by its owner.
func (r *Registry) GetByOwner(ownerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byOwner[ownerID]
	return s, ok
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// DropChannel discards whatever session backs channelRef, unconditionally.
// Mirrors the platform deleting the private conversation out from under us.
func (r *Registry) DropChannel(channelRef string) bool {
	r.mu.Lock()
	s, ok := r.byChannel[channelRef]
	if ok {
		r.dropLocked(s)
	}
	r.mu.Unlock()

	if ok {
		s.discard()
		log.Printf("[INTAKE] Session %s discarded, channel %s gone", s.ID, channelRef)
	}
	return ok
}

// retire runs after a session's teardown grace: remove it and tell the
// presentation layer to close the backing channel.
func (r *Registry) retire(s *Session) {
	r.mu.Lock()
	if current, ok := r.byOwner[s.OwnerID]; !ok || current != s {
		r.mu.Unlock()
		return
	}
	r.dropLocked(s)
	r.mu.Unlock()

	go r.notifier.Notify(s.OwnerID, Notice{Kind: NoticeTeardown, SessionID: s.ID, ChannelRef: s.ChannelRef, Message: "ticket archived"})
	log.Printf("[INTAKE] Session %s retired", s.ID)
}

func (r *Registry) dropLocked(s *Session) {
	if current, ok := r.byOwner[s.OwnerID]; ok && current == s {
		delete(r.byOwner, s.OwnerID)
	}
	delete(r.byID, s.ID)
	if current, ok := r.byChannel[s.ChannelRef]; ok && current == s {
		delete(r.byChannel, s.ChannelRef)
	}
}
