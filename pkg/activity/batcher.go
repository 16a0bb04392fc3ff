package activity

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const (
	DefaultBatchInterval = time.Second
	DefaultBatchSize     = 10
)

type batchKey struct {
	identity uuid.UUID
	typ      Type
}

type block struct {
	material string
	location string
}

type batch struct {
	blocks    []block
	lastFlush time.Time
	flushed   bool
}

// Batcher coalesces high-frequency block events of one kind into a single
// summary activity, e.g. "STONE x3, DIRT x1".
type Batcher struct {
	clock    clock.PassiveClock
	interval time.Duration
	size     int

	mu      sync.Mutex
	batches map[batchKey]*batch
}

func NewBatcher(c clock.PassiveClock, interval time.Duration, size int) *Batcher {
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{
		clock:    c,
		interval: interval,
		size:     size,
		batches:  make(map[batchKey]*batch),
	}
}

// Add buffers one block event. When the batch is due (first event, interval
// elapsed since the last flush, or size reached) the summary is returned.
func (b *Batcher) Add(id uuid.UUID, typ Type, material, location string) (Activity, bool) {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	key := batchKey{identity: id, typ: typ}
	bt, ok := b.batches[key]
	if !ok {
		bt = &batch{}
		b.batches[key] = bt
	}
	bt.blocks = append(bt.blocks, block{material: material, location: location})

	if !bt.flushed || now.Sub(bt.lastFlush) >= b.interval || len(bt.blocks) >= b.size {
		a := summarize(now, typ, bt.blocks)
		bt.blocks = nil
		bt.lastFlush = now
		bt.flushed = true
		return a, true
	}
	return Activity{}, false
}

// Flush drains every pending batch for the identity and forgets it.
func (b *Batcher) Flush(id uuid.UUID) []Activity {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Activity
	for _, typ := range []Type{TypeBlockPlace, TypeBlockBreak} {
		key := batchKey{identity: id, typ: typ}
		bt, ok := b.batches[key]
		if !ok {
			continue
		}
		if len(bt.blocks) > 0 {
			out = append(out, summarize(now, typ, bt.blocks))
		}
		delete(b.batches, key)
	}
	return out
}

// Pending reports how many events are buffered for the identity.
func (b *Batcher) Pending(id uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for key, bt := range b.batches {
		if key.identity == id {
			n += len(bt.blocks)
		}
	}
	return n
}

func summarize(at time.Time, typ Type, blocks []block) Activity {
	counts := make(map[string]int, len(blocks))
	var order []string
	location := ""
	for _, bl := range blocks {
		if _, seen := counts[bl.material]; !seen {
			order = append(order, bl.material)
		}
		counts[bl.material]++
		if location == "" {
			location = bl.location
		}
	}

	parts := make([]string, 0, len(order))
	for _, m := range order {
		parts = append(parts, fmt.Sprintf("%s x%d", m, counts[m]))
	}
	return New(at, typ, strings.Join(parts, ", "), location)
}
