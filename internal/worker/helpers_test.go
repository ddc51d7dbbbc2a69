package worker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"

	"github.com/cwygoda/streamwatch/internal/clock"
	"github.com/cwygoda/streamwatch/internal/domain"
	"github.com/cwygoda/streamwatch/internal/logger"
	"github.com/cwygoda/streamwatch/internal/metrics"
	"github.com/cwygoda/streamwatch/internal/queue"
)

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

// memStore implements domain.ItemStore with slice-backed collections.
// Positions are indices, so deletes shift later slots.
type memStore struct {
	mu          sync.Mutex
	collections map[string][]domain.TrackedItem
	updates     int
	updateErr   error
	listErr     error
	onList      func()
}

func newMemStore() *memStore {
	return &memStore{collections: make(map[string][]domain.TrackedItem)}
}

func (m *memStore) add(collection string, item domain.TrackedItem) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append(m.collections[collection], item)
	return int64(len(m.collections[collection]) - 1)
}

func (m *memStore) set(collection string, position int64, item domain.TrackedItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection][position] = item
}

func (m *memStore) ListItems(ctx context.Context, collection string) ([]domain.TrackedItem, error) {
	if m.onList != nil {
		m.onList()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.TrackedItem
	for i, it := range m.collections[collection] {
		it.Collection = collection
		it.Position = int64(i)
		out = append(out, it)
	}
	return out, nil
}

func (m *memStore) GetItemAt(ctx context.Context, collection string, position int64) (*domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.collections[collection]
	if position < 0 || position >= int64(len(items)) {
		return nil, domain.ErrItemNotFound
	}
	it := items[position]
	it.Collection = collection
	it.Position = position
	return &it, nil
}

func (m *memStore) UpdateItem(ctx context.Context, collection string, position int64, f domain.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	items := m.collections[collection]
	if position < 0 || position >= int64(len(items)) {
		return domain.ErrItemNotFound
	}
	items[position] = fromFields(f)
	m.updates++
	return nil
}

func (m *memStore) AppendItem(ctx context.Context, collection string, f domain.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append(m.collections[collection], fromFields(f))
	return nil
}

func (m *memStore) DeleteItem(ctx context.Context, collection string, position int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.collections[collection]
	if position < 0 || position >= int64(len(items)) {
		return domain.ErrItemNotFound
	}
	m.collections[collection] = append(items[:position], items[position+1:]...)
	return nil
}

func (m *memStore) items(collection string) []domain.TrackedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TrackedItem(nil), m.collections[collection]...)
}

func (m *memStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func fromFields(f domain.Fields) domain.TrackedItem {
	return domain.TrackedItem{
		Link:          f.Link,
		Status:        f.Status,
		Title:         f.Title,
		EmbedLink:     f.EmbedLink,
		LastCheckedAt: f.LastCheckedAt,
		LastLiveAt:    f.LastLiveAt,
		Disabled:      f.Disabled,
		Source:        f.Source,
		Platform:      f.Platform,
		Extra:         f.Extra,
	}
}

// mockStrategy implements domain.Strategy.
type mockStrategy struct {
	mock.Mock
	platform domain.Platform
}

func (s *mockStrategy) Platform() domain.Platform { return s.platform }

func (s *mockStrategy) Check(ctx context.Context, item domain.TrackedItem) (domain.CheckResult, error) {
	args := s.Called(item.Link)
	return args.Get(0).(domain.CheckResult), args.Error(1)
}

// mapDispatcher dispatches by classified platform.
type mapDispatcher map[domain.Platform]domain.Strategy

func (d mapDispatcher) Dispatch(link string) domain.Strategy {
	p, ok := domain.Classify(link)
	if !ok {
		return nil
	}
	return d[p]
}

type fakeWaiter struct {
	mu    sync.Mutex
	calls []domain.Platform
	err   error
}

func (f *fakeWaiter) WaitCleared(ctx context.Context, p domain.Platform) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return f.err
}

// fakeScheduler records what the controller does to the queue and runs
// tasks only when asked.
type fakeScheduler struct {
	mu      sync.Mutex
	tasks   []queue.Task
	pauses  int
	resumes int
}

func (f *fakeScheduler) Enqueue(t queue.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
}

func (f *fakeScheduler) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
}

func (f *fakeScheduler) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
}

func (f *fakeScheduler) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// runNext pops and runs the head task.
func (f *fakeScheduler) runNext(ctx context.Context) error {
	f.mu.Lock()
	t := f.tasks[0]
	f.tasks = f.tasks[1:]
	f.mu.Unlock()
	return t(ctx)
}

// drain runs tasks until none are left, counting how many ran.
func (f *fakeScheduler) drain(ctx context.Context) (int, error) {
	n := 0
	for f.Size() > 0 {
		n++
		if err := f.runNext(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

var testPolicy = RetryPolicy{
	MaxRetries:        3,
	Backoff:           5 * time.Second,
	RateLimitCooldown: 10 * time.Second,
	ChallengeDelay:    5 * time.Second,
	ChallengeTimeout:  2 * time.Minute,
}

type controllerFixture struct {
	store   *memStore
	sched   *fakeScheduler
	clock   *clock.Fake
	waiter  *fakeWaiter
	youtube *mockStrategy
	ctrl    *Controller
}

func newControllerFixture() *controllerFixture {
	f := &controllerFixture{
		store:   newMemStore(),
		sched:   &fakeScheduler{},
		clock:   clock.NewFake(testNow),
		waiter:  &fakeWaiter{},
		youtube: &mockStrategy{platform: domain.PlatformYouTube},
	}
	reconciler := domain.NewReconciler(f.store, f.clock, "expired", 7*24*time.Hour)
	f.ctrl = NewController(
		f.sched,
		mapDispatcher{domain.PlatformYouTube: f.youtube},
		reconciler,
		f.waiter,
		f.clock,
		logger.NewNop(),
		metrics.New(prometheus.NewRegistry()),
		testPolicy,
	)
	return f
}

func (f *controllerFixture) job(collection string, position int64) domain.CheckJob {
	it, err := f.store.GetItemAt(context.Background(), collection, position)
	if err != nil {
		panic(err)
	}
	return domain.NewCheckJob(*it)
}

// gateClock blocks every Sleep until the test releases it.
type gateClock struct {
	*clock.Fake
	started chan struct{}
	release chan struct{}
}

func newGateClock() *gateClock {
	return &gateClock{
		Fake:    clock.NewFake(testNow),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gateClock) Sleep(ctx context.Context, d time.Duration) error {
	g.started <- struct{}{}
	<-g.release
	return nil
}
