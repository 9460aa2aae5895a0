package intake

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixdesk/internal/pix"
	"pixdesk/internal/sink"
)

// Session is one viewer's intake ticket: it collects a Pix key and a proof
// image, then hands the finished record to the submission sink. All event
// handling is serialized by the session mutex; timers re-arm under the same
// lock so a stale timer can never fire after the state has moved on.
type Session struct {
	ID         string
	OwnerID    string
	ChannelRef string

	cfg      Config
	notifier Notifier
	sink     sink.Sink
	limiter  RateLimiter

	// onTerminal runs once, after the teardown grace elapses.
	onTerminal func(*Session)

	mu           sync.Mutex
	state        State
	keyType      pix.KeyType
	hasType      bool
	displayName  string
	key          *pix.Key
	imageRef     string
	submissionID string
	createdAt    time.Time
	lastActivity time.Time

	submitting bool

	idleGen    uint64
	idleWarn   *time.Timer
	idleClose  *time.Timer
	warned     bool
	imageGen   uint64
	imageTimer *time.Timer
	graceTimer *time.Timer
	discarded  bool
}

// Snapshot is a read-only view of a session for status endpoints.
type Snapshot struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"owner_id"`
	ChannelRef   string      `json:"channel_ref"`
	State        State       `json:"state"`
	KeyType      pix.KeyType `json:"key_type,omitempty"`
	DisplayName  string      `json:"display_name,omitempty"`
	PixKey       string      `json:"pix_key,omitempty"`
	SubmissionID string      `json:"submission_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActivity time.Time   `json:"last_activity"`
}

func newSession(ownerID, channelRef string, cfg Config, snk sink.Sink, notifier Notifier, limiter RateLimiter, onTerminal func(*Session)) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		ChannelRef:   channelRef,
		cfg:          cfg,
		notifier:     notifier,
		sink:         snk,
		limiter:      limiter,
		onTerminal:   onTerminal,
		state:        StateAwaitingType,
		createdAt:    now,
		lastActivity: now,
	}
	s.mu.Lock()
	s.armIdleLocked()
	s.mu.Unlock()
	return s
}

// Snapshot returns a consistent copy of the session's visible fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:           s.ID,
		OwnerID:      s.OwnerID,
		ChannelRef:   s.ChannelRef,
		State:        s.state,
		DisplayName:  s.displayName,
		SubmissionID: s.submissionID,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if s.hasType {
		snap.KeyType = s.keyType
	}
	if s.key != nil {
		snap.PixKey = s.key.Normalized
	}
	return snap
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleTypeSelected records the chosen key type. Arriving before or after a
// (failed) details submission is equally fine; the flow converges once a full
// valid details set is in.
func (s *Session) HandleTypeSelected(ev TypeSelected) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.gateLocked(evTypeSelected); !ok {
		return res
	}

	keyType, ok := pix.ParseKeyType(ev.TypeText)
	if !ok {
		s.lastActivity = time.Now()
		return s.rejectLocked("unknown key type: use cpf, email, phone or random")
	}

	s.keyType = keyType
	s.hasType = true
	if s.state == StateAwaitingType {
		s.state = StateAwaitingDetails
	}
	s.acceptLocked()

	log.Printf("[INTAKE] Session %s selected key type %s", s.ID, keyType)
	return Result{OK: true, Message: "key type set, now send your details", State: s.state}
}

// HandleDetailsSubmitted validates the display name and the key. A rejection
// keeps prior correct fields and the current state; success moves to
// AwaitingImage and arms the image-wait timer.
func (s *Session) HandleDetailsSubmitted(ev DetailsSubmitted) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.gateLocked(evDetailsSubmitted); !ok {
		return res
	}
	s.lastActivity = time.Now()

	name := strings.TrimPrefix(strings.TrimSpace(ev.DisplayName), "@")
	if name == "" || len(name) > MAX_DISPLAY_NAME_LEN {
		return s.rejectLocked(fmt.Sprintf("display name must be 1-%d characters", MAX_DISPLAY_NAME_LEN))
	}

	keyType := s.keyType
	hasType := s.hasType
	if strings.TrimSpace(ev.TypeText) != "" {
		parsed, ok := pix.ParseKeyType(ev.TypeText)
		if !ok {
			return s.rejectLocked("unknown key type: use cpf, email, phone or random")
		}
		keyType, hasType = parsed, true
	}
	if !hasType {
		return s.rejectLocked("choose a key type first")
	}

	key, err := pix.Validate(keyType, ev.KeyText)
	if err != nil {
		return s.rejectLocked(err.Error())
	}

	s.keyType = keyType
	s.hasType = true
	s.displayName = name
	s.key = &key
	s.state = StateAwaitingImage
	s.acceptLocked()
	s.armImageWaitLocked()

	s.notifyLocked(NoticeDetailsAccepted, "details accepted, now attach the deposit screenshot")
	log.Printf("[INTAKE] Session %s has valid details (%s, %s)", s.ID, name, keyType)
	return Result{OK: true, Message: "details accepted, now send the proof image", State: s.state}
}

// HandleImageReceived sniffs the attachment, and on a real image hands the
// record to the sink. A sink failure is transient: the session stays in
// AwaitingImage and the user resends.
func (s *Session) HandleImageReceived(ctx context.Context, ev ImageReceived) Result {
	s.mu.Lock()

	if res, ok := s.gateLocked(evImageReceived); !ok {
		s.mu.Unlock()
		return res
	}
	s.lastActivity = time.Now()

	if _, ok := SniffImage(ev.Data); !ok {
		if s.limiter.Allow(s.ID) {
			s.notifyLocked(NoticeRejected, "that is not an image, send the screenshot as PNG/JPG/WEBP")
		}
		res := Result{OK: false, Message: "attachment is not an image", State: s.state}
		s.mu.Unlock()
		return res
	}

	if s.submitting {
		res := Result{OK: false, Message: "an image is already being stored, hold on", State: s.state, Transient: true}
		s.mu.Unlock()
		return res
	}
	s.submitting = true

	rec := sink.Record{
		OwnerID:     s.OwnerID,
		DisplayName: s.displayName,
		KeyType:     s.keyType,
		Key:         *s.key,
		ImageRef:    ev.ImageRef,
	}
	// The sink call is the one blocking operation in the flow; the lock is
	// dropped so timers and snapshots stay responsive. The submitting flag
	// keeps a second image event from reaching the sink meanwhile.
	s.mu.Unlock()

	subID, err := s.sink.Submit(ctx, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	if s.state != StateAwaitingImage {
		// A timer fired while the sink call was in flight.
		return Result{OK: false, Message: "session is no longer accepting images", State: s.state}
	}
	if err != nil {
		log.Printf("[INTAKE] Session %s sink failure: %v", s.ID, err)
		s.notifyLocked(NoticeSinkDown, "could not store your submission, please resend the image")
		return Result{OK: false, Message: "submission store unavailable, resend the image", State: s.state, Transient: true}
	}

	s.imageRef = ev.ImageRef
	s.submissionID = subID
	s.terminalLocked(StateDone, NoticeDone, fmt.Sprintf("submission %s registered, staff will review it", subID))

	log.Printf("[INTAKE] Session %s done, submission %s", s.ID, subID)
	return Result{OK: true, Message: "submission registered", State: s.state, SubmissionID: subID}
}

// gateLocked rejects events on finished sessions and events the current state
// does not accept.
func (s *Session) gateLocked(kind eventKind) (Result, bool) {
	if s.state.Terminal() || s.discarded {
		return Result{OK: false, Message: "session already finished, open a new one", State: s.state}, false
	}
	if !eventAllowed(s.state, kind) {
		return Result{OK: false, Message: fmt.Sprintf("event not accepted while %s", s.state), State: s.state}, false
	}
	return Result{}, true
}

func (s *Session) rejectLocked(msg string) Result {
	s.notifyLocked(NoticeRejected, msg)
	return Result{OK: false, Message: msg, State: s.state}
}

// acceptLocked is the bookkeeping shared by every accepted event: activity
// timestamp plus a fresh idle cycle.
func (s *Session) acceptLocked() {
	s.lastActivity = time.Now()
	s.armIdleLocked()
}

// armIdleLocked replaces the idle warn/close pair. The generation counter
// invalidates callbacks from timers that fired between Stop and the lock.
func (s *Session) armIdleLocked() {
	s.idleGen++
	gen := s.idleGen
	s.warned = false

	if s.idleWarn != nil {
		s.idleWarn.Stop()
	}
	if s.idleClose != nil {
		s.idleClose.Stop()
	}

	warnAfter := s.cfg.IdleBudget - s.cfg.IdleWarnLead
	if warnAfter < 0 {
		warnAfter = 0
	}
	s.idleWarn = time.AfterFunc(warnAfter, func() { s.idleWarnFired(gen) })
	s.idleClose = time.AfterFunc(s.cfg.IdleBudget, func() { s.idleCloseFired(gen) })
}

func (s *Session) idleWarnFired(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.idleGen || s.state.Terminal() || s.discarded || s.warned {
		return
	}
	s.warned = true
	s.notifyLocked(NoticeIdleWarning, fmt.Sprintf("still there? this ticket closes in %s without activity", s.cfg.IdleWarnLead))
	log.Printf("[INTAKE] Session %s idle warning", s.ID)
}

func (s *Session) idleCloseFired(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.idleGen || s.state.Terminal() || s.discarded {
		return
	}
	s.terminalLocked(StateClosed, NoticeClosed, "ticket closed for inactivity, open a new one to try again")
	log.Printf("[INTAKE] Session %s closed idle", s.ID)
}

func (s *Session) armImageWaitLocked() {
	s.imageGen++
	gen := s.imageGen
	if s.imageTimer != nil {
		s.imageTimer.Stop()
	}
	s.imageTimer = time.AfterFunc(s.cfg.ImageWait, func() { s.imageWaitFired(gen) })
}

func (s *Session) imageWaitFired(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.imageGen || s.state != StateAwaitingImage || s.discarded {
		return
	}
	s.terminalLocked(StateTimedOut, NoticeTimedOut, "no image arrived in time, the ticket timed out")
	log.Printf("[INTAKE] Session %s timed out waiting for image", s.ID)
}

// terminalLocked moves to a terminal state: every pending timer dies, the
// final notice goes out, and teardown fires after the grace period.
func (s *Session) terminalLocked(state State, kind NoticeKind, msg string) {
	s.cancelTimersLocked()
	s.state = state
	s.notifyLocked(kind, msg)

	s.graceTimer = time.AfterFunc(s.cfg.TeardownGrace, func() {
		if s.onTerminal != nil {
			s.onTerminal(s)
		}
	})
}

func (s *Session) cancelTimersLocked() {
	s.idleGen++
	s.imageGen++
	if s.idleWarn != nil {
		s.idleWarn.Stop()
	}
	if s.idleClose != nil {
		s.idleClose.Stop()
	}
	if s.imageTimer != nil {
		s.imageTimer.Stop()
	}
}

// discard kills the session unconditionally, without notices or grace. Used
// when the backing channel disappears.
func (s *Session) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = true
	s.cancelTimersLocked()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	if !s.state.Terminal() {
		s.state = StateClosed
	}
}

func (s *Session) notifyLocked(kind NoticeKind, msg string) {
	// Fire-and-forget; a slow notifier must not hold the session lock.
	notice := Notice{Kind: kind, SessionID: s.ID, ChannelRef: s.ChannelRef, Message: msg}
	owner := s.OwnerID
	go s.notifier.Notify(owner, notice)
}

// armedIdleTimers counts live idle timers; test hook for the invariant that
// re-arming never stacks a second pair.
func (s *Session) armedIdleTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	warnAfter := s.cfg.IdleBudget - s.cfg.IdleWarnLead
	if warnAfter < 0 {
		warnAfter = 0
	}
	if s.idleWarn != nil && s.idleWarn.Stop() {
		s.idleWarn.Reset(warnAfter)
		n++
	}
	if s.idleClose != nil && s.idleClose.Stop() {
		s.idleClose.Reset(s.cfg.IdleBudget)
		n++
	}
	return n
}
