package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	sds011 "github.com/hjkoskel/sds011sampler"
)

const createReadingsTable = `CREATE TABLE IF NOT EXISTS sds011_readings (
	id BIGSERIAL PRIMARY KEY,
	sensor TEXT NOT NULL,
	device_id INTEGER NOT NULL,
	pm25 DOUBLE PRECISION NOT NULL,
	pm10 DOUBLE PRECISION NOT NULL,
	measured_at TIMESTAMPTZ NOT NULL
)`

const insertReading = `INSERT INTO sds011_readings (sensor, device_id, pm25, pm10, measured_at) VALUES ($1, $2, $3, $4, $5)`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresSink struct {
	db    execer
	close func()
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createReadingsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating readings table: %w", err)
	}
	return &PostgresSink{db: pool, close: pool.Close}, nil
}

func (p *PostgresSink) Name() string {
	return "postgres"
}

func (p *PostgresSink) Record(ctx context.Context, r sds011.Reading) error {
	_, err := p.db.Exec(ctx, insertReading, r.SensorID, int32(r.DeviceID), r.PM25, r.PM10, r.Timestamp)
	return err
}

func (p *PostgresSink) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
