package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Chain is the Proof Chain orchestrator: it computes each entity's
// hash-linked events, batches them into Merkle trees, and delivers them to
// the store asynchronously so Emit does not wait on the store write — the
// same async-dispatch-with-logged-failure idiom the teacher's alert.Manager
// uses for notification delivery. Emit still reads the store for an
// entity's first chain tip, and writes synchronously when the delivery
// queue is full.
type Chain struct {
	store     Store
	logger    *slog.Logger
	batchSize int

	queue chan *Event

	mu          sync.Mutex
	seen        map[string]struct{} // event id -> dedup marker
	entityLocks map[string]*sync.Mutex
	tips        map[string]string            // tenant|entity -> hash of the last emitted event
	batches     map[string]*batchAccumulator // tenantID -> in-flight accumulator
}

type batchAccumulator struct {
	events []*Event
}

// NewChain wires a Store into a running Chain with a bounded delivery queue.
// batchSize <= 0 falls back to DefaultBatchSize.
func NewChain(store Store, logger *slog.Logger, batchSize int, queueDepth int) *Chain {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	c := &Chain{
		store:       store,
		logger:      logger,
		batchSize:   batchSize,
		queue:       make(chan *Event, queueDepth),
		seen:        make(map[string]struct{}),
		entityLocks: make(map[string]*sync.Mutex),
		tips:        make(map[string]string),
		batches:     make(map[string]*batchAccumulator),
	}
	go c.deliverLoop()
	return c
}

// Emit computes and appends the next event in entityID's chain. The hash
// computation happens synchronously under a per-entity lock, chaining from
// the hash this Chain last emitted for the entity (the store is read only
// for an entity's first event), so ordering is never racy for a single
// entity; the actual store write and batching happen asynchronously on the
// delivery queue.
func (c *Chain) Emit(ctx context.Context, in EmitInput) (*Event, error) {
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("proof: marshal payload: %w", err)
	}

	key := in.TenantID + "|" + in.EntityID
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	prevHash, ok := c.tips[key]
	c.mu.Unlock()
	if !ok {
		prevHash, err = c.store.LatestHash(ctx, in.TenantID, in.EntityID)
		if err != nil {
			return nil, fmt.Errorf("proof: read chain tip: %w", err)
		}
	}

	e := &Event{
		ID:        ulid.Make().String(),
		TenantID:  in.TenantID,
		EntityID:  in.EntityID,
		Kind:      in.Kind,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
		PrevHash:  prevHash,
	}
	hash, err := ComputeHash(e)
	if err != nil {
		return nil, err
	}
	e.Hash = hash

	c.mu.Lock()
	c.tips[key] = e.Hash
	c.mu.Unlock()

	select {
	case c.queue <- e:
	default:
		// Queue saturated: deliver synchronously rather than drop the event
		// or block the caller indefinitely — correctness over throughput.
		c.deliver(e)
	}

	return e, nil
}

func (c *Chain) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.entityLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.entityLocks[key] = l
	}
	return l
}

func (c *Chain) deliverLoop() {
	for e := range c.queue {
		c.deliver(e)
	}
}

func (c *Chain) deliver(e *Event) {
	c.mu.Lock()
	if _, dup := c.seen[e.ID]; dup {
		c.mu.Unlock()
		return
	}
	c.seen[e.ID] = struct{}{}
	c.mu.Unlock()

	ctx := context.Background()
	if err := c.store.InsertEvent(ctx, e); err != nil {
		c.logger.Error("proof: failed to persist event", "event_id", e.ID, "entity_id", e.EntityID, "error", err)
		return
	}

	c.accumulate(ctx, e)
}

// accumulate folds a persisted event into its tenant's in-flight batch,
// flushing a Merkle root once batchSize events have accrued.
func (c *Chain) accumulate(ctx context.Context, e *Event) {
	c.mu.Lock()
	acc, ok := c.batches[e.TenantID]
	if !ok {
		acc = &batchAccumulator{}
		c.batches[e.TenantID] = acc
	}
	acc.events = append(acc.events, e)
	var flush []*Event
	if len(acc.events) >= c.batchSize {
		flush = acc.events
		c.batches[e.TenantID] = &batchAccumulator{}
	}
	c.mu.Unlock()

	if flush == nil {
		return
	}

	leafHashes := make([]string, len(flush))
	ids := make([]string, len(flush))
	for i, ev := range flush {
		leafHashes[i] = ev.Hash
		ids[i] = ev.ID
	}
	tree := buildMerkleTree(leafHashes)
	for i, ev := range flush {
		ev.MerklePath = tree.paths[i]
	}

	batch := Batch{
		ID:        ulid.Make().String(),
		TenantID:  e.TenantID,
		EventIDs:  ids,
		Root:      tree.root,
		CreatedAt: time.Now().UnixNano(),
	}
	if err := c.store.InsertBatch(ctx, e.TenantID, batch); err != nil {
		c.logger.Error("proof: failed to persist batch", "batch_id", batch.ID, "tenant_id", e.TenantID, "error", err)
	}
}

// Verify walks an entity's chain back to genesis starting from the event
// with the given hash, recomputing every hash and prevHash link.
func (c *Chain) Verify(ctx context.Context, tenantID, eventHash string) (VerifyResult, error) {
	start, err := c.store.GetEventByHash(ctx, tenantID, eventHash)
	if err != nil {
		return VerifyResult{}, err
	}
	if start == nil {
		return VerifyResult{Valid: false}, nil
	}

	chain, err := c.store.ListChain(ctx, tenantID, start.EntityID)
	if err != nil {
		return VerifyResult{}, err
	}

	depth := 0
	for i, e := range chain {
		if e.ID == start.ID {
			depth = i + 1
			break
		}
	}
	prefix := chain[:depth]

	valid, brokenIdx := VerifyChain(prefix)
	result := VerifyResult{Valid: valid, Depth: depth, GenesisHash: GenesisHash}
	if !valid {
		result.BrokenAt = prefix[brokenIdx].ID
	}
	return result, nil
}
