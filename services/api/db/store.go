package db

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps read-only access to the readings table.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// New creates a Store backed by a pgx pool reading schema.table.
func New(ctx context.Context, databaseURL, schema, table string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: pgx.Identifier{schema, table}.Sanitize()}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Sensor is the latest known metadata for one PurpleAir sensor.
type Sensor struct {
	SensorIndex int64      `json:"sensor_index"`
	Name        *string    `json:"name,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	Readings    int64      `json:"readings"`
}

// Reading is one stored row. Columns follow whatever fields the ETL requested.
type Reading map[string]any

// ReadingQuery holds filters for retrieving a sensor's readings.
type ReadingQuery struct {
	SensorIndex int64
	Limit       int
	Since       *time.Time
	Until       *time.Time
}

// Summary mirrors the ETL's post-load verification.
type Summary struct {
	TotalRecords  int64      `json:"total_records"`
	UniqueSensors int64      `json:"unique_sensors"`
	Oldest        *time.Time `json:"oldest_reading,omitempty"`
	Newest        *time.Time `json:"newest_reading,omitempty"`
}

func (s *Store) sensorsSQL(where string) string {
	return `
    SELECT DISTINCT ON (sensor_index)
        sensor_index, name, latitude, longitude, time_stamp,
        COUNT(*) OVER (PARTITION BY sensor_index) AS readings
    FROM ` + s.table + where + `
    ORDER BY sensor_index, time_stamp DESC
`
}

// ListSensors returns every sensor with its most recent metadata.
func (s *Store) ListSensors(ctx context.Context) ([]Sensor, error) {
	rows, err := s.pool.Query(ctx, s.sensorsSQL(""))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sensors := make([]Sensor, 0)
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	return sensors, rows.Err()
}

// GetSensor returns one sensor, or nil when it has no readings.
func (s *Store) GetSensor(ctx context.Context, sensorIndex int64) (*Sensor, error) {
	row := s.pool.QueryRow(ctx, s.sensorsSQL(" WHERE sensor_index = $1"), sensorIndex)
	sensor, err := scanSensor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sensor, nil
}

func scanSensor(row pgx.Row) (Sensor, error) {
	var sensor Sensor
	err := row.Scan(
		&sensor.SensorIndex,
		&sensor.Name,
		&sensor.Latitude,
		&sensor.Longitude,
		&sensor.LastSeen,
		&sensor.Readings,
	)
	return sensor, err
}

// FetchReadings returns a sensor's readings in time order.
func (s *Store) FetchReadings(ctx context.Context, q ReadingQuery) ([]Reading, error) {
	args := []any{q.SensorIndex}
	clause := ""
	argPos := 2
	if q.Since != nil {
		clause += " AND time_stamp >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Since)
		argPos++
	}
	if q.Until != nil {
		clause += " AND time_stamp <= $" + strconv.Itoa(argPos)
		args = append(args, *q.Until)
		argPos++
	}
	order := " ORDER BY time_stamp DESC"
	limit := ""
	if q.Limit > 0 {
		limit = " LIMIT $" + strconv.Itoa(argPos)
		args = append(args, q.Limit)
	}

	// newest first so LIMIT keeps the latest rows, then flipped to time order
	sql := "SELECT * FROM " + s.table + " WHERE sensor_index = $1" + clause + order + limit

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	readings, err := collectReadings(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}

// LatestReadings returns the newest reading per sensor.
func (s *Store) LatestReadings(ctx context.Context) ([]Reading, error) {
	rows, err := s.pool.Query(ctx, `
    SELECT DISTINCT ON (sensor_index) *
    FROM `+s.table+`
    ORDER BY sensor_index, time_stamp DESC
`)
	if err != nil {
		return nil, err
	}
	return collectReadings(rows)
}

// Summary returns aggregate counts over the whole table.
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	row := s.pool.QueryRow(ctx, `
    SELECT COUNT(*), COUNT(DISTINCT sensor_index), MIN(time_stamp)::timestamptz, MAX(time_stamp)::timestamptz
    FROM `+s.table)
	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.UniqueSensors, &sum.Oldest, &sum.Newest); err != nil {
		return nil, err
	}
	return &sum, nil
}

func collectReadings(rows pgx.Rows) ([]Reading, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	readings := make([]Reading, 0, len(maps))
	for _, m := range maps {
		readings = append(readings, Reading(m))
	}
	return readings, nil
}
