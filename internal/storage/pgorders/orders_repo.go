package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const orderColumns = `
  id, parcel_code, receiver_name, receiver_phone, city, address,
  price::text, quantity, raw_status, raw_secondary_status, created_at`

var ErrOrderNotFound = errors.New("order not found")

// ListOrders returns orders created at or after since, newest first.
// A zero since returns all orders.
func (s *Storage) ListOrders(ctx context.Context, since time.Time) ([]models.Order, error) {
	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+`
FROM orders
WHERE created_at >= $1
ORDER BY created_at DESC, id
`, since)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}
	return out, nil
}

func (s *Storage) GetOrder(ctx context.Context, id string) (models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, errors.Wrapf(ErrOrderNotFound, "id %s", id)
	}
	return o, err
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o         models.Order
		parcel    *string
		secondary *string
		price     string
	)
	if err := row.Scan(
		&o.ID, &parcel, &o.ReceiverName, &o.ReceiverPhone, &o.City, &o.Address,
		&price, &o.Quantity, &o.RawStatus, &secondary, &o.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, err
		}
		return models.Order{}, errors.Wrap(err, "scan order")
	}
	if parcel != nil {
		o.ParcelCode = *parcel
	}
	if secondary != nil {
		o.RawSecondaryStatus = *secondary
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return models.Order{}, errors.Wrapf(err, "order %s price", o.ID)
	}
	o.Price = p
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}
