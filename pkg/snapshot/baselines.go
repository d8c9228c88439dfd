package snapshot

import "github.com/vango-dev/netsync/pkg/protocol"

// Entity is a server-side entity as the snapshot builder sees it.
type Entity struct {
	State protocol.EntityState

	// Kind identifies what the entity is. It never goes on the wire. A
	// change of Kind under the same number means the slot was reused.
	Kind uint16
}

// Baselines holds the spawn state of every entity slot. New entities are
// delta-encoded against their baseline rather than a zero state.
type Baselines struct {
	states [protocol.MaxEdicts]protocol.EntityState
	set    [protocol.MaxEdicts]bool
}

// NewBaselines returns an empty baseline table.
func NewBaselines() *Baselines {
	return &Baselines{}
}

// Set records es as the baseline for its entity number. Out of range numbers
// are ignored.
func (b *Baselines) Set(es protocol.EntityState) {
	if int(es.Number) >= protocol.MaxEdicts {
		return
	}
	es.Event = 0
	b.states[es.Number] = es
	b.set[es.Number] = true
}

// Get returns the baseline for number. Slots without a baseline, and out of
// range numbers, return a zero state carrying the number.
func (b *Baselines) Get(number uint16) *protocol.EntityState {
	if int(number) >= protocol.MaxEdicts {
		return &protocol.EntityState{Number: number}
	}
	if !b.set[number] {
		b.states[number].Number = number
	}
	return &b.states[number]
}

// Has reports whether a baseline was recorded for number.
func (b *Baselines) Has(number uint16) bool {
	return int(number) < protocol.MaxEdicts && b.set[number]
}

// Each calls fn for every recorded baseline in number order.
func (b *Baselines) Each(fn func(es *protocol.EntityState)) {
	for i := range b.states {
		if b.set[i] {
			fn(&b.states[i])
		}
	}
}

// Reset clears every baseline, as on a level change.
func (b *Baselines) Reset() {
	*b = Baselines{}
}
