package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "chat:room:"

// Notifier fans room change signals out to every service instance over pub/sub.
type Notifier struct {
	client goredis.UniversalClient
}

func NewNotifier(client goredis.UniversalClient) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Publish(ctx context.Context, roomID string) error {
	return n.client.Publish(ctx, roomChannelPrefix+roomID, "changed").Err()
}

// Watch emits a signal per published change until ctx is done. Signals are
// coalesced while the receiver is busy.
func (n *Notifier) Watch(ctx context.Context, roomID string) (<-chan struct{}, error) {
	sub := n.client.Subscribe(ctx, roomChannelPrefix+roomID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
