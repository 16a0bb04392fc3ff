package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const inboxCapacity = 50

// Progress is the latest progress-bar state of one identity.
type Progress struct {
	Remaining float64 `json:"remaining_seconds"`
	Total     float64 `json:"total_seconds"`
	Fraction  float64 `json:"fraction"`
	Urgency   string  `json:"urgency"`
}

// Message is a line addressed to one identity.
type Message struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// Inbox keeps what a UI needs to poll per identity: the current progress
// indicator and a bounded list of recent messages.
type Inbox struct {
	mu       sync.RWMutex
	progress map[uuid.UUID]Progress
	messages map[uuid.UUID][]Message
}

func NewInbox() *Inbox {
	return &Inbox{
		progress: make(map[uuid.UUID]Progress),
		messages: make(map[uuid.UUID][]Message),
	}
}

func (i *Inbox) Name() string { return "inbox" }

func (i *Inbox) Deliver(_ context.Context, ev Event) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch ev.Kind {
	case KindProgress:
		p := Progress{
			Remaining: ev.Remaining.Seconds(),
			Total:     ev.Total.Seconds(),
			Urgency:   ev.Urgency.String(),
		}
		if ev.Total > 0 {
			p.Fraction = float64(ev.Remaining) / float64(ev.Total)
		}
		i.progress[ev.Identity] = p
		return nil
	case KindProgressClear:
		delete(i.progress, ev.Identity)
		return nil
	case KindSessionLog:
		return nil
	}

	if ev.Message == "" {
		return nil
	}
	msgs := append(i.messages[ev.Identity], Message{Kind: string(ev.Kind), Text: ev.Message, At: ev.At.UnixMilli()})
	if len(msgs) > inboxCapacity {
		msgs = msgs[len(msgs)-inboxCapacity:]
	}
	i.messages[ev.Identity] = msgs
	return nil
}

func (i *Inbox) Progress(id uuid.UUID) (Progress, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	p, ok := i.progress[id]
	return p, ok
}

// Drain returns and forgets the pending messages of id.
func (i *Inbox) Drain(id uuid.UUID) []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	msgs := i.messages[id]
	delete(i.messages, id)
	return msgs
}
