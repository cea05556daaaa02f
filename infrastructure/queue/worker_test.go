package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapa-ai/zapa/core/config"
	domainBridge "github.com/zapa-ai/zapa/domains/bridge"
	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

// --- Fakes ---

type fakeStore struct {
	mu       sync.Mutex
	pending  []*domainQueue.OutboundMessage
	acked    []string
	dead     []*domainQueue.OutboundMessage
	released []*domainQueue.OutboundMessage
	updates  []int
}

func (s *fakeStore) push(items ...*domainQueue.OutboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, items...)
	sort.SliceStable(s.pending, func(i, j int) bool {
		return score(s.pending[i].Priority, s.pending[i].CreatedAt) <
			score(s.pending[j].Priority, s.pending[j].CreatedAt)
	})
}

func (s *fakeStore) PopNext(ctx context.Context) (*domainQueue.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	item := s.pending[0]
	s.pending = s.pending[1:]
	cp := *item
	return &cp, nil
}

func (s *fakeStore) Ack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, id)
	return nil
}

func (s *fakeStore) UpdateItem(ctx context.Context, item *domainQueue.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, item.Attempts)
	return nil
}

func (s *fakeStore) MoveToDead(ctx context.Context, item *domainQueue.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.dead = append(s.dead, &cp)
	return nil
}

func (s *fakeStore) Release(ctx context.Context, item *domainQueue.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.released = append(s.released, &cp)
	return nil
}

func (s *fakeStore) RecoverStale(ctx context.Context) (int64, error) { return 0, nil }

func (s *fakeStore) snapshot() (acked []string, dead, released []*domainQueue.OutboundMessage, updates []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.acked...),
		append([]*domainQueue.OutboundMessage{}, s.dead...),
		append([]*domainQueue.OutboundMessage{}, s.released...),
		append([]int{}, s.updates...)
}

type fakeBridge struct {
	domainBridge.IBridgeClient

	mu       sync.Mutex
	calls    int
	failures int // fail the first N calls
	perma    error
	block    chan struct{} // when set, SendText blocks until ctx cancel
	sent     []string
}

func (b *fakeBridge) SendText(ctx context.Context, sessionID, recipient, content, quotedID string) (domainBridge.SendResult, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	block := b.block
	b.mu.Unlock()

	if block != nil {
		<-ctx.Done()
		return domainBridge.SendResult{}, pkgError.BridgeUnreachableError("canceled")
	}
	if b.perma != nil {
		return domainBridge.SendResult{}, b.perma
	}
	if call <= b.failures {
		return domainBridge.SendResult{}, pkgError.BridgeUnreachableError("bridge returned 503")
	}

	b.mu.Lock()
	b.sent = append(b.sent, recipient)
	b.mu.Unlock()
	return domainBridge.SendResult{MessageID: "3EB0OK", Timestamp: time.Now()}, nil
}

func (b *fakeBridge) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeDelivery struct {
	mu         sync.Mutex
	externals  map[int64]string
	failedRows map[int64]string
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{externals: map[int64]string{}, failedRows: map[int64]string{}}
}

func (d *fakeDelivery) SetExternalID(ctx context.Context, messageID int64, externalID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.externals[messageID] = externalID
	return nil
}

func (d *fakeDelivery) SetDeliveryStatusByID(ctx context.Context, messageID int64, status domainMessage.DeliveryStatus, detail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if status == domainMessage.DeliveryFailed {
		d.failedRows[messageID] = detail
	}
	return nil
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Workers:           1,
		MaxRetries:        3,
		RetryDelay:        10 * time.Millisecond,
		VisibilityTimeout: time.Minute,
		PollInterval:      5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// --- Tests ---

func TestWorkerSendsAndAcks(t *testing.T) {
	store := &fakeStore{}
	bridge := &fakeBridge{}
	delivery := newFakeDelivery()

	store.push(&domainQueue.OutboundMessage{
		ID: "item-1", ToNumber: "+15551234567", Content: "hola",
		CreatedAt: time.Now(), MessageID: 42,
	})

	pool := NewSendWorkerPool(store, bridge, delivery, testQueueConfig(), "main")
	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		acked, _, _, _ := store.snapshot()
		return len(acked) == 1
	})
	acked, dead, _, _ := store.snapshot()

	// 1. Delivered item is acked, never dead-lettered
	assert.Equal(t, []string{"item-1"}, acked)
	assert.Empty(t, dead)

	// 2. The bridge message id is backfilled onto the stored row
	delivery.mu.Lock()
	assert.Equal(t, "3EB0OK", delivery.externals[42])
	delivery.mu.Unlock()
}

func TestWorkerRetriesInPlaceThenDeadLetters(t *testing.T) {
	store := &fakeStore{}
	bridge := &fakeBridge{perma: pkgError.BridgeUnreachableError("bridge down")}
	delivery := newFakeDelivery()

	store.push(&domainQueue.OutboundMessage{
		ID: "doomed", ToNumber: "+15550001111", Content: "x",
		CreatedAt: time.Now(), MessageID: 7,
	})

	pool := NewSendWorkerPool(store, bridge, delivery, testQueueConfig(), "main")
	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		_, dead, _, _ := store.snapshot()
		return len(dead) == 1
	})
	acked, dead, released, updates := store.snapshot()

	// 1. Exactly max_retries attempts, all in place (no re-enqueue)
	assert.Equal(t, 3, bridge.callCount())
	assert.Empty(t, acked)
	assert.Empty(t, released)

	// 2. Attempt counts were persisted between backoffs
	assert.Equal(t, []int{1, 2}, updates)

	// 3. Dead-letter entry carries the final attempt count and last error
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "bridge down")

	// 4. The stored row is marked FAILED with the error detail
	delivery.mu.Lock()
	assert.Contains(t, delivery.failedRows[7], "bridge down")
	delivery.mu.Unlock()
}

func TestWorkerBridgeFlapsThenSucceeds(t *testing.T) {
	store := &fakeStore{}
	bridge := &fakeBridge{failures: 2}
	delivery := newFakeDelivery()

	store.push(&domainQueue.OutboundMessage{
		ID: "flappy", ToNumber: "+15552223333", Content: "y",
		CreatedAt: time.Now(), MessageID: 9,
	})

	pool := NewSendWorkerPool(store, bridge, delivery, testQueueConfig(), "main")
	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		acked, _, _, _ := store.snapshot()
		return len(acked) == 1
	})
	acked, dead, _, _ := store.snapshot()

	// Two 503s then success: no dead-letter, one ack, third call delivered.
	assert.Equal(t, 3, bridge.callCount())
	assert.Equal(t, []string{"flappy"}, acked)
	assert.Empty(t, dead)
	delivery.mu.Lock()
	assert.Equal(t, "3EB0OK", delivery.externals[9])
	assert.Empty(t, delivery.failedRows)
	delivery.mu.Unlock()
}

func TestWorkerReleasesItemOnShutdown(t *testing.T) {
	store := &fakeStore{}
	bridge := &fakeBridge{block: make(chan struct{})}
	delivery := newFakeDelivery()

	store.push(&domainQueue.OutboundMessage{
		ID: "in-flight", ToNumber: "+15554445555", Content: "z",
		CreatedAt: time.Now(),
	})

	pool := NewSendWorkerPool(store, bridge, delivery, testQueueConfig(), "main")
	pool.Start()

	waitFor(t, func() bool { return bridge.callCount() == 1 })
	pool.Stop()

	_, dead, released, _ := store.snapshot()

	// The blocked send is handed back untouched, not counted as a failure.
	require.Len(t, released, 1)
	assert.Equal(t, "in-flight", released[0].ID)
	assert.Zero(t, released[0].Attempts)
	assert.Empty(t, dead)
}

func TestScoreOrdersPriorityThenFIFO(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// 1. Higher priority always sorts first, regardless of age
	assert.Less(t,
		score(domainQueue.PriorityUrgent, base.Add(time.Hour)),
		score(domainQueue.PriorityNormal, base))
	assert.Less(t,
		score(domainQueue.PriorityHigh, base),
		score(domainQueue.PriorityNormal, base))

	// 2. Within a class, earlier created_at wins (FIFO)
	assert.Less(t,
		score(domainQueue.PriorityNormal, base),
		score(domainQueue.PriorityNormal, base.Add(time.Millisecond)))

	// 3. Sub-second spacing still orders deterministically
	assert.Less(t,
		score(domainQueue.PriorityNormal, base.Add(100*time.Microsecond)),
		score(domainQueue.PriorityNormal, base.Add(200*time.Microsecond)))
}
