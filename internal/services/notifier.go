package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// BookingNotifier wakes AwaitBooking callers when a transaction log has been
// materialized. Delivery is best-effort; waiters still poll.
type BookingNotifier interface {
	Notify(ctx context.Context, transactionLogID uuid.UUID) error
	// Subscribe must be called before the caller checks state, so a
	// notification between check and wait is not lost.
	Subscribe(ctx context.Context, transactionLogID uuid.UUID) (<-chan struct{}, func(), error)
}

func materializedChannel(transactionLogID uuid.UUID) string {
	return fmt.Sprintf("booking:materialized:%s", transactionLogID)
}

// LocalBookingNotifier fans out within one process.
type LocalBookingNotifier struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]map[chan struct{}]struct{}
}

func NewLocalBookingNotifier() *LocalBookingNotifier {
	return &LocalBookingNotifier{waiters: make(map[uuid.UUID]map[chan struct{}]struct{})}
}

func (n *LocalBookingNotifier) Subscribe(_ context.Context, id uuid.UUID) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.waiters[id] == nil {
		n.waiters[id] = make(map[chan struct{}]struct{})
	}
	n.waiters[id][ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		delete(n.waiters[id], ch)
		if len(n.waiters[id]) == 0 {
			delete(n.waiters, id)
		}
		n.mu.Unlock()
	}
	return ch, cancel, nil
}

func (n *LocalBookingNotifier) Notify(_ context.Context, id uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.waiters[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// RedisBookingNotifier publishes on a per-transaction channel so waiters on
// other instances wake too. Local waiters are notified directly as well.
type RedisBookingNotifier struct {
	rdb   *redis.Client
	local *LocalBookingNotifier
}

func NewRedisBookingNotifier(rdb *redis.Client) *RedisBookingNotifier {
	return &RedisBookingNotifier{rdb: rdb, local: NewLocalBookingNotifier()}
}

func (n *RedisBookingNotifier) Notify(ctx context.Context, id uuid.UUID) error {
	n.local.Notify(ctx, id)
	if err := n.rdb.Publish(ctx, materializedChannel(id), id.String()).Err(); err != nil {
		return fmt.Errorf("publish materialized: %w", err)
	}
	return nil
}

func (n *RedisBookingNotifier) Subscribe(ctx context.Context, id uuid.UUID) (<-chan struct{}, func(), error) {
	localCh, localCancel, _ := n.local.Subscribe(ctx, id)

	sub := n.rdb.Subscribe(ctx, materializedChannel(id))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		// fall back to the process-local channel
		return localCh, localCancel, nil
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case <-localCh:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			sub.Close()
			localCancel()
		})
	}
	return out, cancel, nil
}
