package intake

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// State is the position of an intake session in its lifecycle. Progression is
// monotonic: AwaitingType -> AwaitingDetails -> AwaitingImage -> Done, with
// Closed and TimedOut as terminal aborts reachable from any non-terminal state.
type State string

const (
	StateAwaitingType    State = "AWAITING_TYPE"
	StateAwaitingDetails State = "AWAITING_DETAILS"
	StateAwaitingImage   State = "AWAITING_IMAGE"
	StateDone            State = "DONE"
	StateClosed          State = "CLOSED"
	StateTimedOut        State = "TIMED_OUT"
)

// Terminal reports whether no further events are accepted in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateClosed || s == StateTimedOut
}

// Inbound events. The set is closed: anything else is rejected at the
// transport boundary, never guessed at inside the state machine.

type TypeSelected struct {
	TypeText string `json:"type"`
}

type DetailsSubmitted struct {
	DisplayName string `json:"display_name"`
	TypeText    string `json:"type,omitempty"`
	KeyText     string `json:"key"`
}

type ImageReceived struct {
	ImageRef string `json:"image_ref"`
	Data     []byte `json:"-"`
}

type eventKind string

const (
	evTypeSelected     eventKind = "type_selected"
	evDetailsSubmitted eventKind = "details_submitted"
	evImageReceived    eventKind = "image_received"
)

// allowedEvents is the legality table for inbound events per state. Timer
// transitions are not listed; they are owned by the session itself.
var allowedEvents = map[State]map[eventKind]bool{
	StateAwaitingType: {
		evTypeSelected:     true,
		evDetailsSubmitted: true, // details may arrive first, carrying the type inline
	},
	StateAwaitingDetails: {
		evTypeSelected:     true, // re-selecting before details is harmless
		evDetailsSubmitted: true,
	},
	StateAwaitingImage: {
		evImageReceived: true,
	},
}

func eventAllowed(s State, kind eventKind) bool {
	return allowedEvents[s][kind]
}

// Result is the session's answer to one inbound event. A rejected event keeps
// the session in place; Transient marks failures the user can retry by simply
// resending (sink outages), as opposed to fixing their input.
type Result struct {
	OK           bool   `json:"ok"`
	Message      string `json:"message"`
	State        State  `json:"state"`
	SubmissionID string `json:"submission_id,omitempty"`
	Transient    bool   `json:"transient,omitempty"`
}

var (
	ErrSessionNotFound = errors.New("intake: session not found")
	ErrSessionClosed   = errors.New("intake: session already finished")
)

// DuplicateSessionError is returned when an owner who already has an active
// session asks for another; it carries the existing session so the caller can
// point the user back at it.
type DuplicateSessionError struct {
	SessionID  string
	ChannelRef string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("intake: owner already has open session %s (channel %s)", e.SessionID, e.ChannelRef)
}

// NoticeKind keys a fire-and-forget status notification to its transition.
type NoticeKind string

const (
	NoticeOpened          NoticeKind = "opened"
	NoticeDetailsAccepted NoticeKind = "details_accepted"
	NoticeRejected        NoticeKind = "rejected"
	NoticeIdleWarning     NoticeKind = "idle_warning"
	NoticeClosed          NoticeKind = "closed"
	NoticeTimedOut        NoticeKind = "timed_out"
	NoticeSinkDown        NoticeKind = "sink_down"
	NoticeDone            NoticeKind = "done"
	NoticeTeardown        NoticeKind = "teardown"
)

type Notice struct {
	Kind       NoticeKind `json:"kind"`
	SessionID  string     `json:"session_id"`
	ChannelRef string     `json:"channel_ref"`
	Message    string     `json:"message"`
}

// Notifier delivers status notices to the presentation layer. Delivery is
// best-effort; the session never waits on it.
type Notifier interface {
	Notify(ownerID string, notice Notice)
}

// NopNotifier drops every notice.
type NopNotifier struct{}

func (NopNotifier) Notify(string, Notice) {}

// RateLimiter throttles repeated warnings, one per key per cooldown window.
type RateLimiter interface {
	Allow(key string) bool
}

// MemoryLimiter is the in-process RateLimiter used when Redis is absent and in
// tests.
type MemoryLimiter struct {
	Cooldown time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryLimiter(cooldown time.Duration) *MemoryLimiter {
	return &MemoryLimiter{Cooldown: cooldown, last: make(map[string]time.Time)}
}

func (l *MemoryLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if prev, ok := l.last[key]; ok && now.Sub(prev) < l.Cooldown {
		return false
	}
	l.last[key] = now
	return true
}

const (
	DEFAULT_IDLE_BUDGET    = 8 * time.Minute
	DEFAULT_IDLE_WARN_LEAD = 2 * time.Minute
	DEFAULT_IMAGE_WAIT     = 5 * time.Minute
	DEFAULT_TEARDOWN_GRACE = 2 * time.Minute
	DEFAULT_WARN_COOLDOWN  = 12 * time.Second

	MAX_DISPLAY_NAME_LEN = 32
)

// Config carries every timer the intake flow arms. All durations must be
// positive and the warn lead shorter than the idle budget.
type Config struct {
	IdleBudget    time.Duration
	IdleWarnLead  time.Duration
	ImageWait     time.Duration
	TeardownGrace time.Duration
	WarnCooldown  time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleBudget:    DEFAULT_IDLE_BUDGET,
		IdleWarnLead:  DEFAULT_IDLE_WARN_LEAD,
		ImageWait:     DEFAULT_IMAGE_WAIT,
		TeardownGrace: DEFAULT_TEARDOWN_GRACE,
		WarnCooldown:  DEFAULT_WARN_COOLDOWN,
	}
}

// LoadConfig reads timer overrides from the environment, in seconds.
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleBudget = envSeconds("INTAKE_IDLE_BUDGET_SECONDS", cfg.IdleBudget)
	cfg.IdleWarnLead = envSeconds("INTAKE_IDLE_WARN_LEAD_SECONDS", cfg.IdleWarnLead)
	cfg.ImageWait = envSeconds("INTAKE_IMAGE_WAIT_SECONDS", cfg.ImageWait)
	cfg.TeardownGrace = envSeconds("INTAKE_TEARDOWN_GRACE_SECONDS", cfg.TeardownGrace)
	cfg.WarnCooldown = envSeconds("INTAKE_WARN_COOLDOWN_SECONDS", cfg.WarnCooldown)
	return cfg
}

func envSeconds(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
