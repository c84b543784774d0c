package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/campusride/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

const upsertOffer = `INSERT INTO ride_offers(id, driver_id, driver_name, vehicle_type, origin, destination, total_seats, booked_seats, status, price, version, created_at, updated_at)
	VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO UPDATE SET booked_seats=EXCLUDED.booked_seats, status=EXCLUDED.status, version=EXCLUDED.version, updated_at=EXCLUDED.updated_at
	WHERE ride_offers.version < EXCLUDED.version`

// SaveOffer upserts the snapshot. Rows only move forward: an older version,
// whether it arrives as a creation or an update, is a no-op.
func (p *PostgresStore) SaveOffer(ctx context.Context, o models.RideOffer) error {
	_, err := p.db.ExecContext(ctx, upsertOffer,
		o.ID, nullable(o.DriverID), nullable(o.DriverName), string(o.VehicleType), o.Origin, o.Destination,
		o.TotalSeats, o.BookedSeats, string(o.Status), o.Price, o.Version, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateOffer(ctx context.Context, o models.RideOffer) error {
	return p.SaveOffer(ctx, o)
}

func (p *PostgresStore) ListOffers(ctx context.Context) ([]models.RideOffer, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, driver_id, driver_name, vehicle_type, origin, destination, total_seats, booked_seats, status, price, version, created_at, updated_at
		FROM ride_offers WHERE status <> 'COMPLETED' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RideOffer
	for rows.Next() {
		var (
			o                    models.RideOffer
			driverID, driverName sql.NullString
			vt, status           string
		)
		if err := rows.Scan(&o.ID, &driverID, &driverName, &vt, &o.Origin, &o.Destination, &o.TotalSeats, &o.BookedSeats, &status, &o.Price, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.VehicleType = models.VehicleType(vt)
		o.Status = models.RideStatus(status)
		if driverID.Valid {
			o.DriverID = &driverID.String
		}
		if driverName.Valid {
			o.DriverName = &driverName.String
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Migrate applies a schema script.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
