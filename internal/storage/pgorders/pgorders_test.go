package pgorders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGOrders_List(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "shop_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/shop_test?sslmode=disable"
	var st *Storage
	// Порт слушается раньше, чем postgres принимает подключения.
	require.Eventually(t, func() bool {
		st, err = New(ctx, dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)
	require.NoError(t, st.Ping(ctx))

	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = st.db.Exec(ctx, `
INSERT INTO orders (id, parcel_code, receiver_name, receiver_phone, city, price, quantity, raw_status, raw_secondary_status, created_at)
VALUES
  ('42', 'MKS001', 'Amina', '0612', 'Casablanca', 249.90, 1, 'Distribution', NULL, now()),
  ('43', NULL, 'Youssef', '0613', 'Rabat', 100, 2, 'Nouveau', 'attente', now() - interval '1 hour'),
  ('7', 'MKS007', 'Old', '', '', 10, 1, 'Livré', NULL, $1)
`, old)
	require.NoError(t, err)

	orders, err := st.ListOrders(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "42", orders[0].ID)
	require.Equal(t, "MKS001", orders[0].ParcelCode)
	require.True(t, orders[0].Price.Equal(decimal.RequireFromString("249.90")))
	require.Equal(t, "43", orders[1].ID)
	require.False(t, orders[1].HasParcel())
	require.Equal(t, "attente", orders[1].RawSecondaryStatus)

	all, err := st.ListOrders(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	o, err := st.GetOrder(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "Livré", o.RawStatus)

	_, err = st.GetOrder(ctx, "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
}
