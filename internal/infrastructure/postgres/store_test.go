package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/familyrx/medtrack/internal/infrastructure/migrations"
	"github.com/familyrx/medtrack/internal/store"
	"github.com/familyrx/medtrack/internal/store/storetest"
)

// open connects to MEDTRACK_TEST_DATABASE_URL, resets the schema and
// returns a store on it.
func open(t *testing.T) store.Store {
	t.Helper()
	url := os.Getenv("MEDTRACK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MEDTRACK_TEST_DATABASE_URL not set")
	}
	logger := zaptest.NewLogger(t)

	m, err := migrations.Open(store.KindPostgres, url, logger)
	if err != nil {
		t.Fatalf("migrations.Open() error = %v", err)
	}
	defer m.Close()
	if err := m.Down(); err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	st, err := Open(context.Background(), url, DefaultTopic, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return st
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, open)
}

func TestWritesFillOutbox(t *testing.T) {
	st := open(t).(*Store)
	defer st.Close()
	ctx := context.Background()

	storetest.SeedPrescription(t, st)

	var pending int
	if err := st.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending); err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Errorf("pending outbox events = %d, want 1", pending)
	}

	pub := &recordingPublisher{}
	relay := NewRelay(st.Pool(), pub, DefaultRelayConfig(), zaptest.NewLogger(t))
	res, err := relay.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if res.Published != 1 || len(pub.topics) != 1 || pub.topics[0] != DefaultTopic {
		t.Errorf("Drain() = %+v, published to %v", res, pub.topics)
	}

	backlog, err := relay.Backlog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if backlog.Pending() != 0 || backlog.Published24h != 1 {
		t.Errorf("backlog = %+v", backlog)
	}
}

type recordingPublisher struct {
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	p.topics = append(p.topics, topic)
	return nil
}

var errBrokerDown = errors.New("circuit open")

// failingPublisher fails every publish except to the topics in accept.
type failingPublisher struct {
	err    error
	accept map[string]bool
	topics []string
}

func (p *failingPublisher) Publish(_ context.Context, topic, _ string, _ []byte) error {
	p.topics = append(p.topics, topic)
	if p.accept[topic] {
		return nil
	}
	return p.err
}

func outboxAttempts(t *testing.T, st *Store) int {
	t.Helper()
	var n int
	if err := st.Pool().QueryRow(context.Background(), `SELECT COALESCE(MAX(attempts), 0) FROM outbox`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestUnavailablePublisherKeepsAttempts(t *testing.T) {
	st := open(t).(*Store)
	defer st.Close()
	ctx := context.Background()

	storetest.SeedPrescription(t, st)

	cfg := DefaultRelayConfig()
	cfg.Unavailable = func(err error) bool { return errors.Is(err, errBrokerDown) }
	relay := NewRelay(st.Pool(), &failingPublisher{err: errBrokerDown}, cfg, zaptest.NewLogger(t))
	res, err := relay.Drain(ctx)
	if err != nil || !res.Deferred || res.Published != 0 {
		t.Fatalf("Drain() = %+v, %v; want deferred", res, err)
	}
	if n := outboxAttempts(t, st); n != 0 {
		t.Errorf("attempts = %d, want 0 while the publisher is unavailable", n)
	}
}

func TestFailedPublishBacksOffThenDeadLetters(t *testing.T) {
	st := open(t).(*Store)
	defer st.Close()
	ctx := context.Background()

	storetest.SeedPrescription(t, st)

	cfg := DefaultRelayConfig()
	cfg.MaxAttempts = 2
	pub := &failingPublisher{err: errors.New("record too large"), accept: map[string]bool{cfg.DeadLetterTopic: true}}
	relay := NewRelay(st.Pool(), pub, cfg, zaptest.NewLogger(t))

	res, err := relay.Drain(ctx)
	if err != nil || res.Retried != 1 {
		t.Fatalf("first Drain() = %+v, %v; want one retry", res, err)
	}
	// The retry is scheduled in the future, so a second pass finds nothing.
	if res, err := relay.Drain(ctx); err != nil || res != (DrainResult{}) {
		t.Fatalf("second Drain() = %+v, %v; want an empty pass", res, err)
	}

	if _, err := st.Pool().Exec(ctx, `UPDATE outbox SET next_attempt_at = NOW()`); err != nil {
		t.Fatal(err)
	}
	res, err = relay.Drain(ctx)
	if err != nil || res.DeadLettered != 1 {
		t.Fatalf("third Drain() = %+v, %v; want dead letter", res, err)
	}
	if last := pub.topics[len(pub.topics)-1]; last != cfg.DeadLetterTopic {
		t.Errorf("last publish went to %q, want %q", last, cfg.DeadLetterTopic)
	}
	backlog, err := relay.Backlog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if backlog.Pending() != 0 || backlog.DeadLettered != 1 {
		t.Errorf("backlog = %+v", backlog)
	}
}
