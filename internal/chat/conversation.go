package chat

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrBusy rejects a submission while a turn is already in flight. The
	// caller may retry once the phase returns to idle.
	ErrBusy = errors.New("a turn is already in flight")
	// ErrAlreadySet guards the append-only turn fields. Hitting it means an
	// orchestrator bug, not bad user input.
	ErrAlreadySet = errors.New("turn field already set")
	// ErrTurnNotFound reports an unknown turn id.
	ErrTurnNotFound = errors.New("turn not found")
	// ErrNoQuery rejects an execution outcome for a turn that never had an
	// embedded query extracted.
	ErrNoQuery = errors.New("turn has no embedded query")
)

// EventType identifies conversation state-change notifications.
type EventType string

const (
	EventTurnCreated    EventType = "turn_created"
	EventAnswerSet      EventType = "answer_set"
	EventQueryExtracted EventType = "query_extracted"
	EventExecutionDone  EventType = "execution_done"
	EventPhaseChanged   EventType = "phase_changed"
)

// Event notifies subscribers of one state transition. Turn is a snapshot of
// the affected turn at emission time.
type Event struct {
	Type  EventType `json:"type"`
	Phase Phase     `json:"phase"`
	Turn  Turn      `json:"turn"`
}

const subscriberBuffer = 64

// Conversation is the ordered, append-only log of turns plus the transient
// phase flag. All mutations happen under one mutex so a reader can never
// observe a half-applied transition, and every mutation is pushed to
// subscribers so the rendering layer does not have to poll.
type Conversation struct {
	mu      sync.Mutex
	turns   []*Turn
	nextID  int64
	phase   Phase
	subs    map[int]chan Event
	nextSub int
}

// NewConversation creates an empty idle conversation. When greeting is
// non-empty a pre-answered greeting turn is seeded so a fresh transcript is
// never blank.
func NewConversation(greeting string) *Conversation {
	c := &Conversation{
		phase: PhaseIdle,
		subs:  make(map[int]chan Event),
	}
	if greeting != "" {
		c.nextID++
		answer := greeting
		c.turns = append(c.turns, &Turn{
			ID:         c.nextID,
			Greeting:   true,
			CreatedAt:  time.Now().UTC(),
			AnswerText: &answer,
		})
	}
	return c
}

// BeginTurn atomically checks the idle precondition, appends the user turn
// and moves the phase to thinking. At most one turn can be in flight, so a
// busy conversation rejects the submission instead of interleaving.
func (c *Conversation) BeginTurn(userText string) (Turn, error) {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return Turn{}, ErrBusy
	}
	c.nextID++
	t := &Turn{
		ID:        c.nextID,
		UserText:  userText,
		CreatedAt: time.Now().UTC(),
	}
	c.turns = append(c.turns, t)
	c.phase = PhaseThinking
	snapshot := cloneTurn(t)
	c.mu.Unlock()

	c.notify(Event{Type: EventTurnCreated, Phase: PhaseThinking, Turn: snapshot})
	return snapshot, nil
}

// SetAnswer records the assistant's answer text exactly once.
func (c *Conversation) SetAnswer(id int64, text string) error {
	return c.mutate(id, EventAnswerSet, func(t *Turn) error {
		if t.AnswerText != nil {
			return ErrAlreadySet
		}
		t.AnswerText = &text
		return nil
	})
}

// SetEmbeddedQuery records the statement extracted from the answer, at most
// once per turn.
func (c *Conversation) SetEmbeddedQuery(id int64, query string) error {
	return c.mutate(id, EventQueryExtracted, func(t *Turn) error {
		if t.EmbeddedQuery != nil {
			return ErrAlreadySet
		}
		t.EmbeddedQuery = &query
		return nil
	})
}

// SetExecutionResult attaches the execution outcome, at most once, and only
// to a turn that carries an embedded query.
func (c *Conversation) SetExecutionResult(id int64, outcome ExecutionOutcome) error {
	return c.mutate(id, EventExecutionDone, func(t *Turn) error {
		if t.EmbeddedQuery == nil {
			return ErrNoQuery
		}
		if t.Execution != nil {
			return ErrAlreadySet
		}
		t.Execution = &outcome
		return nil
	})
}

// SetPhase moves the conversation to p and notifies subscribers with a
// snapshot of the last turn.
func (c *Conversation) SetPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	var snapshot Turn
	if len(c.turns) > 0 {
		snapshot = cloneTurn(c.turns[len(c.turns)-1])
	}
	c.mu.Unlock()

	c.notify(Event{Type: EventPhaseChanged, Phase: p, Turn: snapshot})
}

// Phase returns the current phase.
func (c *Conversation) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Turns returns a stable snapshot of the transcript in creation order.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, 0, len(c.turns))
	for _, t := range c.turns {
		out = append(out, cloneTurn(t))
	}
	return out
}

// Subscribe registers a state-change listener. The returned cancel func
// must be called to release the subscription. Slow subscribers lose events
// rather than blocking the state machine.
func (c *Conversation) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, subscriberBuffer)
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Conversation) mutate(id int64, evt EventType, apply func(*Turn) error) error {
	c.mu.Lock()
	t := c.findLocked(id)
	if t == nil {
		c.mu.Unlock()
		return ErrTurnNotFound
	}
	if err := apply(t); err != nil {
		c.mu.Unlock()
		return err
	}
	snapshot := cloneTurn(t)
	phase := c.phase
	c.mu.Unlock()

	c.notify(Event{Type: evt, Phase: phase, Turn: snapshot})
	return nil
}

func (c *Conversation) findLocked(id int64) *Turn {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].ID == id {
			return c.turns[i]
		}
	}
	return nil
}

func (c *Conversation) notify(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- evt:
		default:
			// Drop instead of blocking a transition on a stalled reader.
		}
	}
}
