package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"estatedesk/internal/app/commands"
)

// ErrIdempotencyKeyReused is returned when a key is replayed with a different payload.
var ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")

// IdempotentCommand is a command whose result is replayed for a repeated key.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	// ResultPrototype returns a pointer of the handler's result type.
	ResultPrototype() any
}

// Fingerprinter lets an idempotent command describe its payload. A replay
// whose fingerprint differs from the stored one is rejected.
type Fingerprinter interface {
	Fingerprint() string
}

type IdempotencyRecord struct {
	Key         string
	Fingerprint string
	Payload     []byte
	OccurredAt  time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONResultCodec) Decode(data []byte, out any) error { return json.Unmarshal(data, out) }

// Idempotency stores the result of every successful keyed command and replays
// it on retries. Failures are not stored, so a retry after a failed send runs
// again. Concurrent dispatches of one key share a single execution.
func Idempotency(store IdempotencyStore, codec ResultCodec) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	var inflight singleflight.Group
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			keyed, ok := cmd.(IdempotentCommand)
			if !ok || keyed.IdempotencyKey() == "" {
				return next.Dispatch(ctx, cmd)
			}
			key := cmd.Key() + ":" + keyed.IdempotencyKey()
			fingerprint := fingerprintOf(cmd)
			res, err, _ := inflight.Do(key, func() (any, error) {
				rec, found, err := store.Get(ctx, key)
				if err != nil {
					return nil, fmt.Errorf("idempotency lookup: %w", err)
				}
				if found {
					return replay(rec, fingerprint, keyed, codec)
				}
				return execute(ctx, next, cmd, key, fingerprint, store, codec)
			})
			return res, err
		})
	}
}

func replay(rec IdempotencyRecord, fingerprint string, cmd IdempotentCommand, codec ResultCodec) (any, error) {
	if rec.Fingerprint != "" && fingerprint != "" && rec.Fingerprint != fingerprint {
		return nil, ErrIdempotencyKeyReused
	}
	if len(rec.Payload) == 0 {
		return nil, nil
	}
	out := cmd.ResultPrototype()
	if out == nil {
		return nil, fmt.Errorf("middleware: %s has no result prototype", cmd.Key())
	}
	if err := codec.Decode(rec.Payload, out); err != nil {
		return nil, fmt.Errorf("idempotency replay: %w", err)
	}
	return out, nil
}

func execute(ctx context.Context, next commands.Bus, cmd commands.Command, key, fingerprint string, store IdempotencyStore, codec ResultCodec) (any, error) {
	result, err := next.Dispatch(ctx, cmd)
	if err != nil {
		return nil, err
	}
	rec := IdempotencyRecord{Key: key, Fingerprint: fingerprint, OccurredAt: time.Now().UTC()}
	if result != nil {
		if rec.Payload, err = codec.Encode(result); err != nil {
			return nil, fmt.Errorf("idempotency encode: %w", err)
		}
	}
	if err := store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("idempotency save: %w", err)
	}
	return result, nil
}

func fingerprintOf(cmd commands.Command) string {
	f, ok := cmd.(Fingerprinter)
	if !ok {
		return ""
	}
	sum := sha256.Sum256([]byte(f.Fingerprint()))
	return hex.EncodeToString(sum[:])
}
