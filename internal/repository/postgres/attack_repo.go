package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/attackmap/internal/domain"
)

// Схема таблицы скрейпера логов sshd.
const schema = `CREATE TABLE IF NOT EXISTS failed_logins (
	id         BIGSERIAL PRIMARY KEY,
	timestamp  TIMESTAMP NOT NULL,
	ip_address TEXT NOT NULL,
	port       INTEGER,
	city       TEXT,
	region     TEXT,
	country    TEXT,
	latitude   DOUBLE PRECISION,
	longitude  DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS failed_logins_timestamp_idx ON failed_logins (timestamp DESC);`

const insertFields = 8

type AttackRepo struct {
	db *sql.DB
}

// NewAttackRepo открывает пул; доступность проверяется через Ping.
func NewAttackRepo(connString string) (*AttackRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AttackRepo{db: db}, nil
}

// Ping проверяет доступность базы при старте
func (r *AttackRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *AttackRepo) Close() error { return r.db.Close() }

// Migrate создаёт таблицу, если её нет.
func (r *AttackRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// WriteBatch вставляет пачку одним INSERT.
func (r *AttackRepo) WriteBatch(ctx context.Context, records []domain.AttackRecord) error {
	if len(records) == 0 {
		return nil
	}

	vals := make([]any, 0, len(records)*insertFields)
	for _, rec := range records {
		vals = append(vals,
			rec.Timestamp.UTC(), rec.IPAddress, nullInt(rec.Port),
			nullString(rec.City), nullString(rec.Region), nullString(rec.Country),
			nullFloat(rec.Latitude), nullFloat(rec.Longitude),
		)
	}

	if _, err := r.db.ExecContext(ctx, insertQuery(len(records)), vals...); err != nil {
		return fmt.Errorf("postgres: insert %d records: %w", len(records), err)
	}
	return nil
}

func insertQuery(rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO failed_logins (timestamp, ip_address, port, city, region, country, latitude, longitude) VALUES ")
	for i := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		p := i * insertFields
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)
	}
	return b.String()
}

// Recent отдаёт последние записи, newest-first.
func (r *AttackRepo) Recent(ctx context.Context, limit int, locatedOnly bool) ([]domain.AttackRecord, error) {
	query := `SELECT timestamp, ip_address, port, city, region, country, latitude, longitude FROM failed_logins`
	if locatedOnly {
		query += ` WHERE latitude IS NOT NULL AND longitude IS NOT NULL`
	}
	query += ` ORDER BY timestamp DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AttackRecord, 0, limit)
	for rows.Next() {
		var (
			rec                   domain.AttackRecord
			port                  sql.NullInt32
			city, region, country sql.NullString
			lat, lon              sql.NullFloat64
		)
		if err := rows.Scan(&rec.Timestamp, &rec.IPAddress, &port, &city, &region, &country, &lat, &lon); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		if port.Valid {
			p := int(port.Int32)
			rec.Port = &p
		}
		rec.City, rec.Region, rec.Country = city.String, region.String, country.String
		if lat.Valid && lon.Valid {
			rec.Latitude, rec.Longitude = &lat.Float64, &lon.Float64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *AttackRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_logins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

func (r *AttackRepo) TopCountries(ctx context.Context, limit int) ([]domain.CountryCount, error) {
	query := `SELECT COALESCE(NULLIF(country, ''), $1) AS c, COUNT(*) AS n
		FROM failed_logins GROUP BY c ORDER BY n DESC, c LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, domain.Unknown, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top countries: %w", err)
	}
	defer rows.Close()

	var out []domain.CountryCount
	for rows.Next() {
		var cc domain.CountryCount
		if err := rows.Scan(&cc.Country, &cc.Count); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (r *AttackRepo) Trends(ctx context.Context) ([]domain.DateCount, error) {
	query := `SELECT to_char(timestamp::date, 'YYYY-MM-DD') AS d, COUNT(*)
		FROM failed_logins GROUP BY d ORDER BY d`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: trends: %w", err)
	}
	defer rows.Close()

	var out []domain.DateCount
	for rows.Next() {
		var dc domain.DateCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

func (r *AttackRepo) TimeOfDay(ctx context.Context) ([]domain.HourCount, error) {
	query := `SELECT EXTRACT(HOUR FROM timestamp)::int AS h, COUNT(*)
		FROM failed_logins GROUP BY h ORDER BY h`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: time of day: %w", err)
	}
	defer rows.Close()

	var out []domain.HourCount
	for rows.Next() {
		var hc domain.HourCount
		if err := rows.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

// NaN и Inf в базу не пишем: для карты это всё равно "нет координат".
func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
