// Package cache holds the one shared mutable structure in the engine: the
// deduplicating, TTL-bounded, per-pair-capped set of live opportunities.
// Every other component only holds capability handles into it.
package cache

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// AdmitResult is the outcome of admitting an opportunity, per spec.md
// section 4.3's closed three-value contract. A cap-exceeded rejection is
// reported as Duplicate: from the caller's perspective the cache's visible
// state is unchanged either way, and the result enum doesn't carry a fourth
// value for it.
type AdmitResult string

const (
	Inserted  AdmitResult = "inserted"
	Duplicate AdmitResult = "duplicate"
	Superseded AdmitResult = "superseded"
)

// EventKind discriminates the observable side effects list() consumers
// (internal/schedule) react to.
type EventKind string

const (
	EventAdmitted  EventKind = "admitted"
	EventSuperseded EventKind = "superseded"
	EventEvicted   EventKind = "evicted"
	EventExpired   EventKind = "expired"
)

// Event is published on every state change so internal/schedule can react
// without polling the cache.
type Event struct {
	Kind        EventKind
	Opportunity market.Opportunity
}

// Filter narrows list(); zero value lists everything.
type Filter struct {
	Pair string
}

type shard struct {
	mu     sync.Mutex
	byID   map[string]*market.Opportunity
	byPair map[string][]string // pair -> ids held in this shard
}

// Cache is the OpportunityCache from spec.md section 4.3. It shards by pair
// (rather than by fingerprint) so the per-pair cap can be enforced without
// cross-shard coordination, while still giving admits for unrelated pairs
// independent locks — the "sharded mutex" spec.md section 5 calls for.
type Cache struct {
	shards     []*shard
	numShards  int
	capPerPair int
	clock      market.Clock

	idMu     sync.RWMutex
	idToPair map[string]string

	sf     singleflight.Group
	events chan Event
}

// New builds a Cache with capPerPair entries retained per pair and
// numShards independent pair-shards. clock may be nil to use wall time;
// eventBuffer sizes the best-effort change-event channel.
func New(capPerPair, numShards, eventBuffer int, clock market.Clock) *Cache {
	if capPerPair <= 0 {
		capPerPair = 5
	}
	if numShards <= 0 {
		numShards = 16
	}
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	if clock == nil {
		clock = market.SystemClock{}
	}
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = &shard{byID: make(map[string]*market.Opportunity), byPair: make(map[string][]string)}
	}
	return &Cache{
		shards:     shards,
		numShards:  numShards,
		capPerPair: capPerPair,
		clock:      clock,
		idToPair:   make(map[string]string),
		events:     make(chan Event, eventBuffer),
	}
}

// Events exposes the change-event stream for internal/schedule to consume.
func (c *Cache) Events() <-chan Event {
	return c.events
}

func (c *Cache) shardFor(pair string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pair))
	return c.shards[h.Sum32()%uint32(c.numShards)]
}

// Admit inserts o, per spec.md section 4.3: a fresh id is Inserted (subject
// to the per-pair cap), a repeated id with higher confidence Supersedes the
// existing entry while keeping its original detected_at, and anything else
// is a Duplicate no-op. o must already pass Validate(); a violation is
// returned as an error and nothing is admitted.
func (c *Cache) Admit(o market.Opportunity) (AdmitResult, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}

	pair := o.Pair()
	sh := c.shardFor(pair)

	sh.mu.Lock()
	result, evicted := c.admitLocked(sh, pair, o)
	sh.mu.Unlock()

	c.idMu.Lock()
	if result == Inserted || result == Superseded {
		c.idToPair[o.ID] = pair
	}
	if evicted != nil {
		delete(c.idToPair, evicted.ID)
	}
	c.idMu.Unlock()

	c.publish(result, o, evicted)
	return result, nil
}

func (c *Cache) admitLocked(sh *shard, pair string, o market.Opportunity) (AdmitResult, *market.Opportunity) {
	if existing, ok := sh.byID[o.ID]; ok {
		if o.Confidence <= existing.Confidence {
			return Duplicate, nil
		}
		o.DetectedAt = existing.DetectedAt
		cp := o
		sh.byID[o.ID] = &cp
		return Superseded, nil
	}

	ids := sh.byPair[pair]
	if len(ids) < c.capPerPair {
		cp := o
		sh.byID[o.ID] = &cp
		sh.byPair[pair] = append(ids, o.ID)
		return Inserted, nil
	}

	minID, minConfidence := "", 2.0
	for _, id := range ids {
		if e := sh.byID[id]; e.Confidence < minConfidence {
			minID, minConfidence = id, e.Confidence
		}
	}
	if o.Confidence <= minConfidence {
		return Duplicate, nil
	}

	evicted := sh.byID[minID]
	delete(sh.byID, minID)
	newIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != minID {
			newIDs = append(newIDs, id)
		}
	}
	cp := o
	sh.byID[o.ID] = &cp
	sh.byPair[pair] = append(newIDs, o.ID)
	return Inserted, evicted
}

func (c *Cache) publish(result AdmitResult, o market.Opportunity, evicted *market.Opportunity) {
	var kind EventKind
	switch result {
	case Inserted:
		kind = EventAdmitted
	case Superseded:
		kind = EventSuperseded
	default:
		return
	}
	select {
	case c.events <- Event{Kind: kind, Opportunity: o}:
	default:
	}
	if evicted != nil {
		select {
		case c.events <- Event{Kind: EventEvicted, Opportunity: *evicted}:
		default:
		}
	}
}

// BuildAndAdmit guarantees at-most-one invocation of build for concurrent
// callers sharing id, per spec.md section 4.3's "at-most-one-build per
// fingerprint" requirement — e.g. an enrichment fetch that must not run
// twice for the same opportunity just because two ticks raced.
func (c *Cache) BuildAndAdmit(id string, build func() (market.Opportunity, error)) (market.Opportunity, AdmitResult, error) {
	v, err, _ := c.sf.Do(id, func() (interface{}, error) {
		o, err := build()
		if err != nil {
			return nil, err
		}
		result, err := c.Admit(o)
		if err != nil {
			return nil, err
		}
		return admitOutcome{o, result}, nil
	})
	if err != nil {
		return market.Opportunity{}, "", err
	}
	out := v.(admitOutcome)
	return out.opportunity, out.result, nil
}

type admitOutcome struct {
	opportunity market.Opportunity
	result      AdmitResult
}

// Get returns the opportunity by id, respecting TTL: an expired entry is
// invisible to readers even if the background sweep hasn't removed it yet.
func (c *Cache) Get(id string) (market.Opportunity, bool) {
	c.idMu.RLock()
	pair, ok := c.idToPair[id]
	c.idMu.RUnlock()
	if !ok {
		return market.Opportunity{}, false
	}

	sh := c.shardFor(pair)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	o, ok := sh.byID[id]
	if !ok || o.IsExpired(c.clock.Now()) {
		return market.Opportunity{}, false
	}
	return *o, true
}

// List returns a deterministically ordered, TTL-filtered view per spec.md
// section 4.3: confidence desc, detected_at asc, id asc.
func (c *Cache) List(filter Filter) []market.Opportunity {
	now := c.clock.Now()
	var out []market.Opportunity

	visit := func(sh *shard) {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		for _, o := range sh.byID {
			if o.IsExpired(now) {
				continue
			}
			if filter.Pair != "" && o.Pair() != filter.Pair {
				continue
			}
			out = append(out, *o)
		}
	}

	if filter.Pair != "" {
		visit(c.shardFor(filter.Pair))
	} else {
		for _, sh := range c.shards {
			visit(sh)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sweep removes every entry past its TTL, publishing an Expired event for
// each, and returns the count removed. Readers never need it to run
// promptly since Get/List already filter expired entries themselves; it
// exists to bound memory and to surface Expired events for metrics.
func (c *Cache) Sweep(now time.Time) int {
	var removedIDs []string

	for _, sh := range c.shards {
		sh.mu.Lock()
		for id, o := range sh.byID {
			if !o.IsExpired(now) {
				continue
			}
			pair := o.Pair()
			delete(sh.byID, id)
			ids := sh.byPair[pair]
			for i, existingID := range ids {
				if existingID == id {
					sh.byPair[pair] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
			removedIDs = append(removedIDs, id)
			select {
			case c.events <- Event{Kind: EventExpired, Opportunity: *o}:
			default:
			}
		}
		sh.mu.Unlock()
	}

	if len(removedIDs) > 0 {
		c.idMu.Lock()
		for _, id := range removedIDs {
			delete(c.idToPair, id)
		}
		c.idMu.Unlock()
	}
	return len(removedIDs)
}

// RunSweeper starts a background goroutine sweeping every interval until
// done is closed, mirroring the teacher's ticker+stopCh refresh-loop shape
// (internal/market's deleted sync.go) adapted to this cache's TTL sweep.
func (c *Cache) RunSweeper(done <-chan struct{}, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.Sweep(c.clock.Now())
			}
		}
	}()
}
