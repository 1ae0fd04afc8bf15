package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"estatedesk/internal/app/commands"
	"estatedesk/internal/app/queries"
)

type sendCmd struct {
	key   string
	text  string
	valid error
}

func (c sendCmd) Key() string            { return "test.send" }
func (c sendCmd) IdempotencyKey() string { return c.key }
func (c sendCmd) ResultPrototype() any   { return &sendResult{} }
func (c sendCmd) Validate() error        { return c.valid }
func (c sendCmd) Fingerprint() string    { return c.text }

type sendResult struct {
	Echo string `json:"echo"`
}

type mapStore struct {
	mu   sync.Mutex
	recs map[string]IdempotencyRecord
}

func (s *mapStore) Get(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	return rec, ok, nil
}

func (s *mapStore) Save(_ context.Context, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Key] = rec
	return nil
}

type countingBus struct {
	calls int
	fail  error
}

func (b *countingBus) Dispatch(_ context.Context, cmd commands.Command) (any, error) {
	b.calls++
	if b.fail != nil {
		return nil, b.fail
	}
	return &sendResult{Echo: cmd.(sendCmd).text}, nil
}

func TestIdempotencyReplaysStoredResult(t *testing.T) {
	store := &mapStore{recs: map[string]IdempotencyRecord{}}
	base := &countingBus{}
	bus := ChainCommands(base, Idempotency(store, nil))

	first, err := bus.Dispatch(context.Background(), sendCmd{key: "k1", text: "hello"})
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := bus.Dispatch(context.Background(), sendCmd{key: "k1", text: "hello"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if _, err := bus.Dispatch(context.Background(), sendCmd{key: "k1", text: "changed"}); !errors.Is(err, ErrIdempotencyKeyReused) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", base.calls)
	}
	if first.(*sendResult).Echo != "hello" || second.(*sendResult).Echo != "hello" {
		t.Fatalf("expected replayed result, got %+v", second)
	}
	rec, ok := store.recs["test.send:k1"]
	if !ok {
		t.Fatalf("expected record stored under the command-scoped key")
	}
	if rec.Fingerprint == "" || rec.Fingerprint == "hello" {
		t.Fatalf("expected hashed fingerprint, got %q", rec.Fingerprint)
	}
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	store := &mapStore{recs: map[string]IdempotencyRecord{}}
	base := &countingBus{fail: errors.New("send failed")}
	bus := ChainCommands(base, Idempotency(store, nil))

	if _, err := bus.Dispatch(context.Background(), sendCmd{key: "k1"}); err == nil {
		t.Fatalf("expected failure")
	}
	base.fail = nil
	if _, err := bus.Dispatch(context.Background(), sendCmd{key: "k1", text: "retry"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected the retry to reach the handler, calls=%d", base.calls)
	}
}

func TestIdempotencyPassesThroughWithoutKey(t *testing.T) {
	store := &mapStore{recs: map[string]IdempotencyRecord{}}
	base := &countingBus{}
	bus := ChainCommands(base, Idempotency(store, nil))
	for i := 0; i < 2; i++ {
		if _, err := bus.Dispatch(context.Background(), sendCmd{text: "x"}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if base.calls != 2 || len(store.recs) != 0 {
		t.Fatalf("unkeyed commands must not be deduplicated")
	}
}

func TestChainOrderAuthorizationBeforeValidation(t *testing.T) {
	denied := errors.New("forbidden")
	invalid := errors.New("invalid")
	base := &countingBus{}

	bus := ChainCommands(base, Authorization(AuthorizerFunc(func(context.Context, any) error { return denied })), Validation())
	if _, err := bus.Dispatch(context.Background(), sendCmd{valid: invalid}); !errors.Is(err, denied) {
		t.Fatalf("expected authorization to run first, got %v", err)
	}

	bus = ChainCommands(base, Authorization(AuthorizerFunc(func(context.Context, any) error { return nil })), Validation())
	if _, err := bus.Dispatch(context.Background(), sendCmd{valid: invalid}); !errors.Is(err, invalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if base.calls != 0 {
		t.Fatalf("rejected commands must not reach the handler")
	}
}

type slowBus struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *slowBus) Dispatch(_ context.Context, cmd commands.Command) (any, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return &sendResult{Echo: cmd.(sendCmd).text}, nil
}

func TestIdempotencyConcurrentRetriesShareOneExecution(t *testing.T) {
	store := &mapStore{recs: map[string]IdempotencyRecord{}}
	base := &slowBus{release: make(chan struct{})}
	bus := ChainCommands(base, Idempotency(store, nil))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bus.Dispatch(context.Background(), sendCmd{key: "k1", text: "hi"})
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(base.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected one execution, got %d", base.calls)
	}
}

func TestQueryValidationRejectsInvalidQuery(t *testing.T) {
	invalid := errors.New("bad tab")
	asked := false
	base := queryFunc(func(context.Context, queries.Query) (any, error) {
		asked = true
		return nil, nil
	})
	bus := ChainQueries(base, nil, QueryValidation())
	if _, err := bus.Ask(context.Background(), badQuery{err: invalid}); !errors.Is(err, invalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if asked {
		t.Fatalf("invalid query reached the handler")
	}
}

type badQuery struct{ err error }

func (q badQuery) Key() string     { return "test.query" }
func (q badQuery) Validate() error { return q.err }
