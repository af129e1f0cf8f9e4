package identity

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewIDs_Shape(t *testing.T) {
	t.Parallel()

	v := NewVisitorID()
	s := NewSessionID()

	if !IsVisitorID(v) {
		t.Errorf("IsVisitorID(%q) = false", v)
	}
	if !IsSessionID(s) {
		t.Errorf("IsSessionID(%q) = false", s)
	}
	if IsVisitorID(s) || IsSessionID(v) {
		t.Error("prefixes must not be interchangeable")
	}
}

func TestNewSessionID_NoCollisions(t *testing.T) {
	t.Parallel()

	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := NewSessionID()
		if _, dup := seen[id]; dup {
			t.Fatalf("collision after %d generations: %s", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewVisitorID_ConcurrentNoCollisions(t *testing.T) {
	t.Parallel()

	const workers, perWorker = 16, 1000
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, perWorker)
			for i := range ids {
				ids[i] = NewVisitorID()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("unique ids = %d, want %d", len(seen), workers*perWorker)
	}
}

func TestResolveVisitor_StableAcrossCalls(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()

	first, created, err := ResolveVisitor(store)
	if err != nil || !created {
		t.Fatalf("first resolve: id=%q created=%v err=%v", first, created, err)
	}
	second, created, err := ResolveVisitor(store)
	if err != nil || created {
		t.Fatalf("second resolve: created=%v err=%v", created, err)
	}
	if first != second {
		t.Errorf("visitor id changed: %q -> %q", first, second)
	}

	store.Clear()
	third, _, _ := ResolveVisitor(store)
	if third == first {
		t.Error("clearing storage should mint a new visitor id")
	}
}

func TestResolveVisitor_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("repeated resolution in one storage scope yields one id", prop.ForAll(
		func(calls int) bool {
			store := NewMemoryStorage()
			want, _, err := ResolveVisitor(store)
			if err != nil {
				return false
			}
			for i := 0; i < calls; i++ {
				got, created, err := ResolveVisitor(store)
				if err != nil || created || got != want {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
	))

	properties.Property("separate storage scopes yield distinct ids", prop.ForAll(
		func(scopes int) bool {
			seen := make(map[string]bool, scopes)
			for i := 0; i < scopes; i++ {
				id, _, err := ResolveVisitor(NewMemoryStorage())
				if err != nil || seen[id] {
					return false
				}
				seen[id] = true
			}
			return true
		},
		gen.IntRange(2, 50),
	))

	properties.TestingRun(t)
}

type failingStorage struct {
	getErr error
	setErr error
}

func (f failingStorage) Get(string) (string, error) { return "", f.getErr }
func (f failingStorage) Set(string, string) error  { return f.setErr }

func TestResolveVisitor_StorageErrors(t *testing.T) {
	t.Parallel()

	readErr := errors.New("quota exceeded")
	if _, _, err := ResolveVisitor(failingStorage{getErr: readErr}); !errors.Is(err, readErr) {
		t.Errorf("read failure: err = %v, want %v", err, readErr)
	}

	writeErr := errors.New("storage disabled")
	id, created, err := ResolveVisitor(failingStorage{getErr: ErrNotFound, setErr: writeErr})
	if !errors.Is(err, writeErr) {
		t.Errorf("write failure: err = %v, want %v", err, writeErr)
	}
	if id == "" || !created {
		t.Error("a usable id should still be returned when persisting fails")
	}
}

func TestFileStorage_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "beacon", "storage.json")

	first, _, err := ResolveVisitor(NewFileStorage(path))
	if err != nil {
		t.Fatalf("ResolveVisitor error = %v", err)
	}
	second, created, err := ResolveVisitor(NewFileStorage(path))
	if err != nil {
		t.Fatalf("ResolveVisitor (reopen) error = %v", err)
	}
	if created || first != second {
		t.Errorf("reopened storage minted a new id: %q -> %q", first, second)
	}
}
