package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/familyrx/medtrack/internal/domain"
	"github.com/familyrx/medtrack/internal/domain/prescription"
	"github.com/familyrx/medtrack/internal/observability/metrics"
)

func entryFor(active bool) Entry {
	p := &prescription.Prescription{
		ID:             uuid.New(),
		FamilyMemberID: uuid.New(),
		MedicationID:   uuid.New(),
		StartDate:      domain.MustParseDate("2024-01-01"),
		Active:         active,
	}
	return Entry{Prescription: p, Member: MemberRef{ID: p.FamilyMemberID}, Medication: MedicationRef{ID: p.MedicationID}}
}

func TestSnapshotCachesUntilInvalidated(t *testing.T) {
	var loads int32
	snap := NewSnapshot(func(context.Context) ([]Entry, error) {
		atomic.AddInt32(&loads, 1)
		return []Entry{entryFor(true)}, nil
	}, nil, metrics.New(prometheus.NewRegistry()))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := snap.Entries(ctx); err != nil {
			t.Fatalf("Entries() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("loads = %d, want 1", got)
	}

	snap.Invalidate("local")
	if _, err := snap.Entries(ctx); err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Fatalf("loads after Invalidate = %d, want 2", got)
	}
	if snap.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", snap.Generation())
	}
}

func TestSnapshotDoesNotCacheLoadsOverlappingInvalidation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var version int32

	snap := NewSnapshot(func(context.Context) ([]Entry, error) {
		v := atomic.AddInt32(&version, 1)
		if v == 1 {
			started <- struct{}{}
			<-release
			return []Entry{entryFor(true)}, nil
		}
		return []Entry{entryFor(false)}, nil
	}, nil, nil)

	done := make(chan []Entry)
	go func() {
		entries, _ := snap.Entries(context.Background())
		done <- entries
	}()

	<-started
	snap.Invalidate("local")
	close(release)

	stale := <-done
	if len(stale) != 1 || !stale[0].Prescription.Active {
		t.Fatalf("first caller got %v, want the entry it loaded", stale)
	}

	fresh, err := snap.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(fresh) != 1 || fresh[0].Prescription.Active {
		t.Fatalf("read after invalidation served the stale load: %v", fresh)
	}
}

func TestSnapshotCoalescesConcurrentLoads(t *testing.T) {
	var loads int32
	release := make(chan struct{})
	snap := NewSnapshot(func(context.Context) ([]Entry, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return []Entry{entryFor(true)}, nil
	}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := snap.Entries(context.Background()); err != nil {
				t.Errorf("Entries() error = %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Errorf("loads = %d, want 1", got)
	}
}

func TestSnapshotLoadErrorIsNotCached(t *testing.T) {
	fail := true
	snap := NewSnapshot(func(context.Context) ([]Entry, error) {
		if fail {
			return nil, errors.New("store down")
		}
		return []Entry{entryFor(true)}, nil
	}, nil, nil)

	if _, err := snap.Entries(context.Background()); err == nil {
		t.Fatal("Entries() error = nil, want store error")
	}
	fail = false
	entries, err := snap.Entries(context.Background())
	if err != nil || len(entries) != 1 {
		t.Fatalf("Entries() after recovery = %v, %v", entries, err)
	}
}
