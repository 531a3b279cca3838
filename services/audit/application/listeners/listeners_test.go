package listeners

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	pkgevents "github.com/ghuser/entitlements/pkg/events"
	"github.com/ghuser/entitlements/pkg/logger"
	"github.com/ghuser/entitlements/services/audit/application/sink"
	auditdomain "github.com/ghuser/entitlements/services/audit/domain"
	"github.com/ghuser/entitlements/services/audit/domain/events"
	"github.com/ghuser/entitlements/services/audit/domain/repositories"
)

type memoryRepo struct {
	mu    sync.Mutex
	saved []events.Event
	err   error
}

func (r *memoryRepo) Save(_ context.Context, e events.Event) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, e)
	return nil
}

func (r *memoryRepo) FindByOwner(context.Context, string, repositories.QueryOpts) ([]events.Event, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved, len(r.saved), nil
}

func newSink(t *testing.T, ls ...sink.Listener) *sink.EventSink {
	t.Helper()
	factory := events.NewFactory(events.PrincipalFunc(func(context.Context) events.Principal {
		return events.SystemPrincipal
	}))
	s := sink.NewEventSink(nil, factory, logger.Discard(), nil)
	for _, l := range ls {
		if err := s.RegisterListener(l); err != nil {
			t.Fatalf("RegisterListener: %v", err)
		}
	}
	return s
}

func TestAuditListener_WritesAndPropagatesFailure(t *testing.T) {
	repo := &memoryRepo{}
	s := newSink(t, NewAuditListener(repo, logger.Discard()))

	ctx := s.Begin(context.Background())
	if err := s.EmitOwnerCreated(ctx, events.Entity{ID: "o1", Name: "acme"}); err != nil {
		t.Fatalf("EmitOwnerCreated: %v", err)
	}
	s.SendEvents(ctx)
	if len(repo.saved) != 1 || repo.saved[0].OwnerID != "o1" {
		t.Fatalf("saved = %+v", repo.saved)
	}

	repo.err = errors.New("constraint violation")
	ctx = s.Begin(context.Background())
	err := s.EmitPoolCreated(ctx, events.Entity{ID: "p1", OwnerID: "o1"})
	if !errors.Is(err, auditdomain.ErrAuditWrite) {
		t.Fatalf("err = %v, want ErrAuditWrite", err)
	}
	if !errors.Is(err, repo.err) {
		t.Fatalf("err = %v, want wrapped repository error", err)
	}
	s.Rollback(ctx)
}

func TestLoggingListener_LogsOnCommitOnly(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "info")
	s := newSink(t, NewLoggingListener(log))

	ctx := s.Begin(context.Background())
	_ = s.EmitConsumerCreated(ctx, events.Entity{ID: "c1", OwnerID: "o1", Name: "box"})
	if buf.Len() != 0 {
		t.Fatalf("logged before commit: %s", buf.String())
	}
	s.SendEvents(ctx)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("parse log line %q: %v", buf.String(), err)
	}
	if line["msg"] != "audit event" || line["entity_id"] != "c1" || line["type"] != "CREATED" {
		t.Errorf("log line = %v", line)
	}
	if line["uow_id"] == nil {
		t.Error("expected uow_id on audit log line")
	}

	buf.Reset()
	ctx = s.Begin(context.Background())
	_ = s.EmitConsumerDeleted(ctx, events.Entity{ID: "c1", OwnerID: "o1"})
	s.Rollback(ctx)
	if strings.Contains(buf.String(), "audit event") {
		t.Fatalf("rolled back event was logged: %s", buf.String())
	}
}

// busFixture wires a sink with a BusPublisher over the in-memory broker and
// collects deliveries per routing key.
type busFixture struct {
	sink   *sink.EventSink
	pool   *pkgevents.SessionPool
	mu     sync.Mutex
	byKey  map[string][]*message.Message
	notify chan struct{}
}

func newBusFixture(t *testing.T, keys ...string) *busFixture {
	t.Helper()
	broker := pkgevents.NewMemoryBroker(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = broker.Close()
	})

	f := &busFixture{byKey: make(map[string][]*message.Message), notify: make(chan struct{}, 100)}
	for _, key := range keys {
		errCh, err := broker.Subscribe(ctx, key, func(_ context.Context, msg *message.Message) error {
			f.mu.Lock()
			f.byKey[key] = append(f.byKey[key], msg)
			f.mu.Unlock()
			f.notify <- struct{}{}
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe(%s): %v", key, err)
		}
		go func() {
			for range errCh {
			}
		}()
	}

	f.pool = pkgevents.NewSessionPool(broker, 4, logger.Discard())
	f.sink = newSink(t, NewBusPublisher(f.pool, logger.Discard()))
	return f
}

func (f *busFixture) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.notify:
		case <-time.After(time.Second):
			t.Fatalf("received %d of %d messages", i, n)
		}
	}
}

func (f *busFixture) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey[key])
}

func TestBusPublisher_RoutesByKeyOnCommit(t *testing.T) {
	f := newBusFixture(t, "poolCreated", "poolExpired")

	ctx := f.sink.Begin(context.Background())
	if err := f.sink.EmitPoolCreated(ctx, events.Entity{ID: "p1", OwnerID: "o1"}); err != nil {
		t.Fatal(err)
	}
	if err := f.sink.EmitPoolExpired(ctx, events.Entity{ID: "p1", OwnerID: "o1"}); err != nil {
		t.Fatal(err)
	}
	f.sink.SendEvents(ctx)
	f.waitFor(t, 2)

	if n := f.count("poolCreated"); n != 1 {
		t.Errorf("poolCreated received %d, want 1", n)
	}
	if n := f.count("poolExpired"); n != 1 {
		t.Errorf("poolExpired received %d, want 1", n)
	}

	msg := f.byKey["poolCreated"][0]
	if msg.Metadata.Get(MetaRoutingKey) != "poolCreated" || msg.Metadata.Get(MetaDestination) != "pool.created" {
		t.Errorf("metadata = %v", msg.Metadata)
	}
	var wire events.Event
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if wire.Type != events.TypeCreated || wire.Target != events.TargetPool || wire.EntityID != "p1" {
		t.Errorf("wire event = %+v", wire)
	}
}

func TestBusPublisher_RollbackDeliversNothing(t *testing.T) {
	f := newBusFixture(t, "poolCreated")

	ctx := f.sink.Begin(context.Background())
	_ = f.sink.EmitPoolCreated(ctx, events.Entity{ID: "p1", OwnerID: "o1"})
	f.sink.Rollback(ctx)

	select {
	case <-f.notify:
		t.Fatal("rolled back event was delivered")
	case <-time.After(50 * time.Millisecond):
	}
	if n := f.count("poolCreated"); n != 0 {
		t.Errorf("received %d, want 0", n)
	}
}

func TestBusPublisher_ReusesSessionAcrossUnitsOfWork(t *testing.T) {
	f := newBusFixture(t, "consumerCreated")

	for i := 0; i < 3; i++ {
		ctx := f.sink.Begin(context.Background())
		_ = f.sink.EmitConsumerCreated(ctx, events.Entity{ID: "c", OwnerID: "o1"})
		f.sink.SendEvents(ctx)
	}
	f.waitFor(t, 3)

	if st := f.pool.Stats(); st.Open != 1 || st.Idle != 1 {
		t.Errorf("pool stats = %+v, want one open idle session", st)
	}
}

func TestBusPublisher_NoEventsNoLease(t *testing.T) {
	f := newBusFixture(t)
	ctx := f.sink.Begin(context.Background())
	f.sink.SendEvents(ctx)
	if st := f.pool.Stats(); st.Open != 0 {
		t.Errorf("open = %d, want 0", st.Open)
	}
}

type failingSession struct{ closed bool }

func (s *failingSession) Publish(context.Context, string, ...*message.Message) error {
	return errors.New("broker unreachable")
}
func (s *failingSession) Commit(context.Context) error   { return nil }
func (s *failingSession) Rollback(context.Context) error { return nil }
func (s *failingSession) Close() error {
	s.closed = true
	return nil
}

type failingBroker struct{ session *failingSession }

func (b *failingBroker) NewSession(context.Context) (pkgevents.Session, error) { return b.session, nil }
func (b *failingBroker) Ping(context.Context) error                              { return nil }

func TestBusPublisher_PublishFailureIsolatedAndSessionDiscarded(t *testing.T) {
	broker := &failingBroker{session: &failingSession{}}
	pool := pkgevents.NewSessionPool(broker, 1, logger.Discard())
	repo := &memoryRepo{}
	s := newSink(t, NewAuditListener(repo, logger.Discard()), NewBusPublisher(pool, logger.Discard()))

	ctx := s.Begin(context.Background())
	if err := s.EmitPoolCreated(ctx, events.Entity{ID: "p1", OwnerID: "o1"}); err != nil {
		t.Fatalf("bus failure must not propagate: %v", err)
	}
	s.SendEvents(ctx)

	if len(repo.saved) != 1 {
		t.Errorf("audit rows = %d, want 1", len(repo.saved))
	}
	if !broker.session.closed {
		t.Error("broken session was returned to the pool")
	}
	if st := pool.Stats(); st.Open != 0 {
		t.Errorf("open = %d, want 0", st.Open)
	}
	info := s.QueueInfo()
	if info[1].Failed != 2 {
		t.Errorf("bus failures = %d, want 2 (event + commit)", info[1].Failed)
	}
}

func TestRegister_OrderAndUnknownNames(t *testing.T) {
	s := newSink(t)
	deps := Deps{Events: &memoryRepo{}, Log: logger.Discard()}
	if err := Register(s, []string{"logging", "nonsense", "database", "bus"}, deps); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got := s.Listeners()
	if len(got) != 2 || got[0] != NameLogging || got[1] != NameDatabase {
		t.Fatalf("listeners = %v, want [logging database]", got)
	}
}

func TestNew_UnknownListener(t *testing.T) {
	_, err := New("jms", Deps{Log: logger.Discard()})
	if !errors.Is(err, auditdomain.ErrUnknownListener) {
		t.Fatalf("err = %v, want ErrUnknownListener", err)
	}
}
