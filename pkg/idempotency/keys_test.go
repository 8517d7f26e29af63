package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"
)

func TestKeyHash(t *testing.T) {
	k := Key{Client: "web", Operation: "medication_log.create", Value: "abc"}
	if k.Hash() != (Key{Client: "web", Operation: "medication_log.create", Value: "abc"}).Hash() {
		t.Error("Hash is not deterministic")
	}
	tests := []struct {
		name  string
		other Key
	}{
		{"client", Key{Client: "mobile", Operation: k.Operation, Value: k.Value}},
		{"operation", Key{Client: k.Client, Operation: "medication_log.update", Value: k.Value}},
		{"value", Key{Client: k.Client, Operation: k.Operation, Value: "abd"}},
		{"boundary", Key{Client: "we", Operation: "b" + k.Operation, Value: k.Value}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.other.Hash() == k.Hash() {
				t.Errorf("%+v shares a hash with %+v", tt.other, k)
			}
		})
	}
	if len(k.Hash()) != 64 {
		t.Errorf("len(Hash()) = %d, want 64", len(k.Hash()))
	}
}

func TestErrorText(t *testing.T) {
	if got := errorText(json.RawMessage(`{"error":"Prescription not found"}`)); got != "Prescription not found" {
		t.Errorf("errorText() = %q", got)
	}
	if got := errorText(nil); got != "unknown error" {
		t.Errorf("errorText(nil) = %q", got)
	}
}

func TestNewStoreDefaults(t *testing.T) {
	s := NewStore(nil, Config{}, nil)
	want := DefaultConfig()
	if s.cfg.TTL != want.TTL || s.cfg.StaleAfter != want.StaleAfter ||
		s.cfg.SweepInterval != want.SweepInterval || s.cfg.IsTerminal != nil {
		t.Errorf("cfg = %+v, want defaults", s.cfg)
	}
}

func openStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	url := os.Getenv("MEDTRACK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MEDTRACK_TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(context.Background(), `SELECT 1 FROM idempotency_keys LIMIT 1`); err != nil {
		t.Skipf("idempotency_keys table unavailable: %v", err)
	}
	return NewStore(pool, cfg, zaptest.NewLogger(t))
}

func newKey(op string) Key {
	return Key{Client: "test", Operation: op, Value: uuid.NewString()}
}

func TestDoReplaysResponse(t *testing.T) {
	s := openStore(t, DefaultConfig())
	ctx := context.Background()
	key := newKey("replay")

	calls := 0
	fn := func(ctx context.Context) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"id":"log-1"}`), nil
	}

	first, err := s.Do(ctx, key, []byte(`{}`), fn)
	if err != nil {
		t.Fatalf("first Do() error = %v", err)
	}
	second, err := s.Do(ctx, key, []byte(`{}`), fn)
	if err != nil {
		t.Fatalf("second Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}
	if first.Replayed || !second.Replayed {
		t.Errorf("Replayed = %v, %v; want false, true", first.Replayed, second.Replayed)
	}
	if string(second.Response) != `{"id":"log-1"}` {
		t.Errorf("replayed response = %s", second.Response)
	}
}

func TestDoRejectsReusedKey(t *testing.T) {
	s := openStore(t, DefaultConfig())
	ctx := context.Background()
	key := newKey("reuse")

	ok := func(ctx context.Context) (json.RawMessage, error) { return json.RawMessage(`{}`), nil }
	if _, err := s.Do(ctx, key, []byte(`{"a":1}`), ok); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Do(ctx, key, []byte(`{"a":2}`), ok); !errors.Is(err, ErrKeyReused) {
		t.Errorf("Do() with another body error = %v, want ErrKeyReused", err)
	}
}

func TestDoTerminalFailureSticks(t *testing.T) {
	errBad := errors.New("bad request")
	cfg := DefaultConfig()
	cfg.IsTerminal = func(err error) bool { return errors.Is(err, errBad) }
	s := openStore(t, cfg)
	ctx := context.Background()
	key := newKey("terminal")

	fail := func(ctx context.Context) (json.RawMessage, error) { return nil, errBad }
	if _, err := s.Do(ctx, key, nil, fail); !errors.Is(err, errBad) {
		t.Fatalf("Do() error = %v, want errBad", err)
	}
	ok := func(ctx context.Context) (json.RawMessage, error) { return json.RawMessage(`{}`), nil }
	if _, err := s.Do(ctx, key, nil, ok); !errors.Is(err, ErrFailed) {
		t.Errorf("retry error = %v, want ErrFailed", err)
	}
}

func TestDoRetriesRetryableFailure(t *testing.T) {
	s := openStore(t, Config{TTL: time.Hour, StaleAfter: time.Minute, SweepInterval: time.Hour})
	ctx := context.Background()
	key := newKey("retryable")

	flaky := func(ctx context.Context) (json.RawMessage, error) { return nil, errors.New("connection reset") }
	if _, err := s.Do(ctx, key, nil, flaky); err == nil {
		t.Fatal("Do() error = nil")
	}
	out, err := s.Do(ctx, key, nil, func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if out.Attempt != 2 || out.Replayed {
		t.Errorf("outcome = %+v, want attempt 2", out)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[StateDone] == 0 {
		t.Errorf("counts = %v, want a done key", counts)
	}
}
