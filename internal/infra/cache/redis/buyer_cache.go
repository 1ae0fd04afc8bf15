package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"estatedesk/internal/domain/conversation"
)

const buyerKeyPrefix = "inbox:buyer:"

// BuyerSource is the directory behind the cache.
type BuyerSource interface {
	GetBuyer(ctx context.Context, buyerID string) (conversation.BuyerProfile, error)
}

// CachedBuyerDirectory memoises buyer profiles in Redis. Cache failures fall through
// to the source.
type CachedBuyerDirectory struct {
	Client goredis.UniversalClient
	Source BuyerSource
	TTL    time.Duration
	Logger *slog.Logger
}

type cachedBuyer struct {
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (d *CachedBuyerDirectory) GetBuyer(ctx context.Context, buyerID string) (conversation.BuyerProfile, error) {
	key := buyerKeyPrefix + buyerID
	raw, err := d.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cb cachedBuyer
		if jsonErr := json.Unmarshal(raw, &cb); jsonErr == nil {
			return conversation.BuyerProfile(cb), nil
		}
	case !errors.Is(err, goredis.Nil):
		d.warn("buyer cache read failed", buyerID, err)
	}

	profile, err := d.Source.GetBuyer(ctx, buyerID)
	if err != nil {
		return conversation.BuyerProfile{}, err
	}
	payload, err := json.Marshal(cachedBuyer(profile))
	if err == nil {
		if setErr := d.Client.Set(ctx, key, payload, d.ttl()).Err(); setErr != nil {
			d.warn("buyer cache write failed", buyerID, setErr)
		}
	}
	return profile, nil
}

func (d *CachedBuyerDirectory) ttl() time.Duration {
	if d.TTL <= 0 {
		return 10 * time.Minute
	}
	return d.TTL
}

func (d *CachedBuyerDirectory) warn(msg, buyerID string, err error) {
	if d.Logger != nil {
		d.Logger.Warn(msg, "buyer_id", buyerID, "error", err)
	}
}
