package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
	"github.com/orderflow/order-service/internal/order/domain"
	"github.com/orderflow/order-service/internal/order/infrastructure/postgres"
)

func TestRepositoryAgainstPostgres(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container tests")
	}

	ctx := context.Background()
	env, err := Setup(ctx)
	require.NoError(t, err)
	defer env.Teardown(ctx)

	cfg, err := pgxpool.ParseConfig(env.PGURL)
	require.NoError(t, err)
	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	defer pool.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := postgres.NewRepository(log, pool)
	require.NoError(t, repo.Migrate(ctx))

	o := domain.NewOrder(uuid.New(), []domain.OrderItem{
		{ProductID: 1, Quantity: 2, Price: decimal.RequireFromString("10.00")},
		{ProductID: 2, Quantity: 1, Price: decimal.RequireFromString("4.50")},
	})
	require.NoError(t, repo.InsertWithOutbox(ctx, o, domain.TypeReserveProducts, []byte(`{}`), nil, ""))

	t.Run("round trip", func(t *testing.T) {
		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("24.50")))
		assert.Len(t, got.Items, 2)
	})

	t.Run("conditional update is atomic", func(t *testing.T) {
		var wg sync.WaitGroup
		wins := make(chan int64, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := repo.UpdateStatusIf(ctx, o.ID, domain.StatusPending, domain.StatusReserved)
				assert.NoError(t, err)
				wins <- n
			}()
		}
		wg.Wait()
		close(wins)

		var applied int64
		for n := range wins {
			applied += n
		}
		assert.Equal(t, int64(1), applied)

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReserved, got.Status)
	})

	t.Run("outbox rows survive failed and orphaned publishes", func(t *testing.T) {
		store := postgres.NewOutboxStore(log, pool)

		events, err := store.LockBatch(ctx, "relay-a", 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, domain.TypeReserveProducts, events[0].Type)
		assert.Equal(t, o.ID.String(), events[0].AggregateID)
		id := events[0].ID

		// Claimed rows stay invisible while the lease holds.
		again, err := store.LockBatch(ctx, "relay-b", 10, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, again)

		// A publisher crash shows up as an expired lease; the row is
		// reclaimed by whoever polls next.
		_, err = pool.Exec(ctx, `UPDATE outbox SET lease_until = now() - interval '1 second' WHERE id = $1`, id)
		require.NoError(t, err)
		events, err = store.LockBatch(ctx, "relay-b", 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, events, 1)

		// A failed publish goes back into rotation once its backoff passes.
		require.NoError(t, store.MarkFailed(ctx, id, "broker unreachable"))
		_, err = pool.Exec(ctx, `UPDATE outbox SET lease_until = now() - interval '1 second' WHERE id = $1`, id)
		require.NoError(t, err)
		events, err = store.LockBatch(ctx, "relay-a", 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, events, 1)

		// Sent rows leave rotation for good.
		require.NoError(t, store.MarkSent(ctx, []int64{id}))
		remaining, err := store.LockBatch(ctx, "relay-a", 10, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})

	t.Run("purchase lookup", func(t *testing.T) {
		found, err := repo.HasUserPurchasedProduct(ctx, o.UserID, 2)
		require.NoError(t, err)
		assert.True(t, found)

		found, err = repo.HasUserPurchasedProduct(ctx, o.UserID, 999)
		require.NoError(t, err)
		assert.False(t, found)
	})
}
