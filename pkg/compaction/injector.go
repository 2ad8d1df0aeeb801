// Package compaction detects silent working-memory resets in live
// conversations and delivers a continuity brief when one happens.
package compaction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ctxkeep/pkg/delivery"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/session"
)

// State is a session's position in the compaction state machine.
type State int

const (
	StateActive State = iota
	StateCompactionSuspected
	StateInjected
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompactionSuspected:
		return "compaction_suspected"
	case StateInjected:
		return "injected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Options bounds the persisted state.
type Options struct {
	// Window is the per-session message window.
	Window int
	// HashLimit bounds the global message hash ring.
	HashLimit int
	// InjectionBuffer bounds the injection history.
	InjectionBuffer int
}

// DefaultOptions returns the default bounds.
func DefaultOptions() Options {
	return Options{Window: 50, HashLimit: 500, InjectionBuffer: 50}
}

// Detection is the result of checking one message.
type Detection struct {
	Detected bool   `json:"detected"`
	Trigger  Kind   `json:"trigger,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	State    State  `json:"state"`
}

// Message is an incoming conversation message.
type Message struct {
	Session   string    `json:"session"`
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Outcome reports what HandleMessage did.
type Outcome struct {
	Detection  Detection               `json:"detection"`
	Registered bool                    `json:"registered"`
	Injection  *session.InjectionEvent `json:"injection,omitempty"`
	Brief      *Brief                  `json:"brief,omitempty"`
	State      State                   `json:"state"`
}

// Injector owns the per-session state machine.
type Injector struct {
	sessions  *session.Manager
	rules     *RuleSet
	briefs    *BriefBuilder
	deliverer delivery.Deliverer
	opts      Options
	log       *logger.Logger
	now       func() time.Time
}

// NewInjector creates an injector. rules defaults to the built-in set.
func NewInjector(sessions *session.Manager, rules *RuleSet, briefs *BriefBuilder, deliverer delivery.Deliverer, opts Options, log *logger.Logger) *Injector {
	if log == nil {
		log = logger.NewNop()
	}
	if rules == nil {
		rules = DefaultRules()
	}
	defaults := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = defaults.Window
	}
	if opts.HashLimit <= 0 {
		opts.HashLimit = defaults.HashLimit
	}
	if opts.InjectionBuffer <= 0 {
		opts.InjectionBuffer = defaults.InjectionBuffer
	}
	return &Injector{
		sessions:  sessions,
		rules:     rules,
		briefs:    briefs,
		deliverer: deliverer,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Hash returns the hex SHA-256 of content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RegisterMessage records a message in the session window. It returns
// false when a message with identical content is already in the window.
func (i *Injector) RegisterMessage(ctx context.Context, sessionKey, messageID, content, role string, ts time.Time) (bool, error) {
	if ts.IsZero() {
		ts = i.now()
	}
	h := Hash(content)
	registered := false

	err := i.sessions.Update(ctx, func(st *session.State) error {
		sess := st.Session(sessionKey)
		if sess.HasHash(h) {
			return session.ErrUnchanged
		}
		sess.Append(session.MessageRecord{ID: messageID, Role: role, Hash: h, Timestamp: ts}, i.opts.Window)
		st.AddHash(h, i.opts.HashLimit)
		registered = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("registering message: %w", err)
	}

	if !registered {
		i.log.Debug("Duplicate message ignored", zap.String("session", sessionKey), zap.String("message_id", messageID))
	}
	return registered, nil
}

// DetectCompaction checks content against the rules without changing state.
func (i *Injector) DetectCompaction(ctx context.Context, sessionKey, messageID, content, role string) (Detection, error) {
	st, err := i.sessions.Load(ctx)
	if err != nil {
		return Detection{}, err
	}
	sess, _ := st.Lookup(sessionKey)

	rule, pattern, ok := i.rules.Match(Input{Role: role, Content: content, Hash: Hash(content)}, sess)
	if !ok {
		return Detection{State: StateActive}, nil
	}

	i.log.Info("Compaction suspected",
		zap.String("session", sessionKey),
		zap.String("message_id", messageID),
		zap.String("trigger", string(rule.Kind)),
		zap.String("pattern", pattern),
	)
	return Detection{Detected: true, Trigger: rule.Kind, Pattern: pattern, State: StateCompactionSuspected}, nil
}

// HandleMessage runs detection, registers the message and, when a reset
// was detected, builds and delivers a continuity brief. A failed delivery
// is returned as an error and leaves no injection record.
func (i *Injector) HandleMessage(ctx context.Context, msg Message) (*Outcome, error) {
	det, err := i.DetectCompaction(ctx, msg.Session, msg.ID, msg.Content, msg.Role)
	if err != nil {
		return nil, err
	}
	registered, err := i.RegisterMessage(ctx, msg.Session, msg.ID, msg.Content, msg.Role, msg.Timestamp)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Detection: det, Registered: registered, State: det.State}
	if !det.Detected {
		return out, nil
	}

	ev, brief, err := i.Inject(ctx, msg.Session, string(det.Trigger))
	out.Brief = brief
	if err != nil {
		return out, err
	}
	out.Injection = ev
	out.State = StateInjected
	return out, nil
}

// Inject builds a continuity brief, delivers it to sessionKey and records
// the injection.
func (i *Injector) Inject(ctx context.Context, sessionKey, trigger string) (*session.InjectionEvent, *Brief, error) {
	if i.briefs == nil || i.deliverer == nil {
		return nil, nil, errors.New("compaction injector has no brief builder or deliverer")
	}

	brief, err := i.briefs.Build(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("building continuity brief: %w", err)
	}

	now := i.now()
	ev := session.InjectionEvent{
		ID:          uuid.NewString(),
		Session:     sessionKey,
		ContentHash: Hash(brief.Text),
		Trigger:     trigger,
		Timestamp:   now,
	}

	err = i.deliverer.Deliver(ctx, delivery.Message{
		ID:        ev.ID,
		Session:   sessionKey,
		Kind:      "continuity_brief",
		Content:   brief.Text,
		Timestamp: now,
	})
	if err != nil {
		i.log.Error("Continuity brief delivery failed",
			zap.String("session", sessionKey),
			zap.String("backend", i.deliverer.Name()),
			zap.Error(err),
		)
		return nil, brief, fmt.Errorf("delivering continuity brief: %w", err)
	}

	err = i.sessions.Update(ctx, func(st *session.State) error {
		sess := st.Session(sessionKey)
		sess.Compactions = append(sess.Compactions, session.CompactionEvent{
			Timestamp:    now,
			MessageCount: sess.MessageCount,
			Trigger:      trigger,
		})
		st.AddInjection(ev, i.opts.InjectionBuffer)
		return nil
	})
	if err != nil {
		return nil, brief, fmt.Errorf("recording injection: %w", err)
	}

	i.log.Info("Injected continuity brief",
		zap.String("session", sessionKey),
		zap.String("trigger", trigger),
		zap.Int("tokens", brief.Tokens),
	)
	return &ev, brief, nil
}

// SessionState derives a session's state from its history: Injected until
// a message newer than the last injection is registered, Active otherwise.
func (i *Injector) SessionState(ctx context.Context, sessionKey string) (State, error) {
	st, err := i.sessions.Load(ctx)
	if err != nil {
		return StateActive, err
	}
	sess, ok := st.Lookup(sessionKey)
	if !ok || len(sess.Compactions) == 0 {
		return StateActive, nil
	}
	last := sess.Compactions[len(sess.Compactions)-1]
	if !sess.LastActivity.After(last.Timestamp) {
		return StateInjected, nil
	}
	return StateActive, nil
}
