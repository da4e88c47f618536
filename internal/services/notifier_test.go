package services

import (
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBookingNotifier(t *testing.T) {
	n := NewLocalBookingNotifier()
	id := uuid.New()

	t.Run("wakes subscribers of the same transaction only", func(t *testing.T) {
		mine, cancelMine, err := n.Subscribe(ctx(), id)
		require.NoError(t, err)
		defer cancelMine()
		other, cancelOther, err := n.Subscribe(ctx(), uuid.New())
		require.NoError(t, err)
		defer cancelOther()

		require.NoError(t, n.Notify(ctx(), id))

		select {
		case <-mine:
		case <-time.After(time.Second):
			t.Fatal("subscriber was not woken")
		}
		select {
		case <-other:
			t.Fatal("unrelated subscriber was woken")
		default:
		}
	})

	t.Run("notification before wait is not lost", func(t *testing.T) {
		ch, cancel, err := n.Subscribe(ctx(), id)
		require.NoError(t, err)
		defer cancel()

		require.NoError(t, n.Notify(ctx(), id))
		require.NoError(t, n.Notify(ctx(), id))

		select {
		case <-ch:
		default:
			t.Fatal("buffered wake missing")
		}
	})

	t.Run("cancel removes the waiter", func(t *testing.T) {
		_, cancel, err := n.Subscribe(ctx(), id)
		require.NoError(t, err)
		cancel()

		n.mu.Lock()
		defer n.mu.Unlock()
		assert.Empty(t, n.waiters[id])
	})
}

func TestRedisBookingNotifier_Notify(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	n := NewRedisBookingNotifier(rdb)
	id := uuid.New()

	t.Run("publishes on the per-transaction channel", func(t *testing.T) {
		local, cancel, err := n.local.Subscribe(ctx(), id)
		require.NoError(t, err)
		defer cancel()

		mock.ExpectPublish("booking:materialized:"+id.String(), id.String()).SetVal(1)

		require.NoError(t, n.Notify(ctx(), id))
		assert.NoError(t, mock.ExpectationsWereMet())

		select {
		case <-local:
		default:
			t.Fatal("local waiter not woken")
		}
	})

	t.Run("publish failure is reported", func(t *testing.T) {
		mock.ExpectPublish("booking:materialized:"+id.String(), id.String()).SetErr(errors.New("connection refused"))

		assert.Error(t, n.Notify(ctx(), id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
