// Package historydb indexes the history carried by the current snapshot in an
// in-memory DuckDB so per-sensor statistics can be queried with SQL. The index
// is rebuilt wholesale on every applied snapshot and never persisted.
package historydb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/snapshot"
	"github.com/go-logr/logr"
	"github.com/marcboeker/go-duckdb"
)

// GasStats summarizes one gas over a sensor's history.
type GasStats struct {
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Avg     *float64 `json:"avg"`
	Samples int64    `json:"samples"`
}

// SensorStats summarizes a sensor's indexed history.
type SensorStats struct {
	SensorID string     `json:"sensorId"`
	Count    int64      `json:"count"`
	CO2      GasStats   `json:"co2"`
	TVOC     GasStats   `json:"tvoc"`
	First    *time.Time `json:"first,omitempty"`
	Last     *time.Time `json:"last,omitempty"`
}

// Index is an in-memory DuckDB table of readings keyed by sensor.
type Index struct {
	db  *sql.DB
	log logr.Logger

	// mu keeps queries from seeing a half-replaced table.
	mu      sync.RWMutex
	seq     uint64
	rows    int
	skipped int

	// querySem limits concurrent queries.
	querySem chan struct{}
}

// Open creates an empty in-memory index.
func Open(log logr.Logger) (*Index, error) {
	log = log.WithName("historydb")

	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE readings (
			sensor_id VARCHAR NOT NULL,
			ts TIMESTAMP NOT NULL,
			co2 DOUBLE,
			tvoc DOUBLE
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create readings table: %w", err)
	}

	return &Index{
		db:       db,
		log:      log,
		querySem: make(chan struct{}, 4),
	}, nil
}

// Replace swaps the indexed history for the snapshot's. A snapshot older than
// the one already indexed is ignored and false is returned.
func (idx *Index) Replace(ctx context.Context, seq uint64, snap *models.SensorSnapshot) (bool, error) {
	return idx.swap(ctx, seq, func(appender *duckdb.Appender) (rows, skipped int, err error) {
		for _, id := range snapshot.SortedIDs(snap) {
			for _, r := range snap.Sensors[id].History {
				ts, err := snapshot.ParseTimestamp(r.Timestamp)
				if err != nil || !r.HasAnyGas() {
					skipped++
					continue
				}
				if err := appender.AppendRow(id, ts.UTC(), nullable(r.CO2), nullable(r.TVOC)); err != nil {
					return rows, skipped, fmt.Errorf("failed to append reading of %s: %w", id, err)
				}
				rows++
			}
		}
		return rows, skipped, nil
	})
}

type fillFunc func(appender *duckdb.Appender) (rows, skipped int, err error)

// swap clears the table and refills it inside one transaction, so readers see
// either the previous history or the new one.
func (idx *Index) swap(ctx context.Context, seq uint64, fill fillFunc) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if seq != 0 && seq <= idx.seq {
		return false, nil
	}

	start := time.Now()
	rows, skipped := 0, 0

	conn, err := idx.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	rollback := func(cause error) (bool, error) {
		if _, err := conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
			idx.log.Error(err, "rollback failed", "seq", seq)
		}
		return false, cause
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM readings"); err != nil {
		return rollback(fmt.Errorf("failed to clear readings: %w", err))
	}

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "readings")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		rows, skipped, err = fill(appender)
		if err != nil {
			return err
		}
		return appender.Flush()
	})
	if err != nil {
		return rollback(fmt.Errorf("appender error: %w", err))
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return rollback(fmt.Errorf("failed to commit readings: %w", err))
	}

	idx.seq = seq
	idx.rows = rows
	idx.skipped = skipped
	idx.log.V(1).Info("history indexed", "seq", seq, "rows", rows, "skipped", skipped, "elapsed", time.Since(start))
	return true, nil
}

// Seq returns the sequence of the indexed snapshot.
func (idx *Index) Seq() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.seq
}

// Len returns the number of indexed readings.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.rows
}

// Stats returns the summary of one sensor. ok is false when the sensor has no
// indexed readings.
func (idx *Index) Stats(ctx context.Context, sensorID string) (stats SensorStats, ok bool, err error) {
	if err := idx.acquire(ctx); err != nil {
		return SensorStats{}, false, err
	}
	defer idx.release()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var (
		count                  int64
		co2Samples, tvocSample int64
		co2Min, co2Max, co2Avg sql.NullFloat64
		tvMin, tvMax, tvAvg    sql.NullFloat64
		first, last            sql.NullTime
	)
	err = idx.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(co2), MIN(co2), MAX(co2), AVG(co2),
		       COUNT(tvoc), MIN(tvoc), MAX(tvoc), AVG(tvoc),
		       MIN(ts), MAX(ts)
		FROM readings WHERE sensor_id = ?
	`, sensorID).Scan(&count, &co2Samples, &co2Min, &co2Max, &co2Avg,
		&tvocSample, &tvMin, &tvMax, &tvAvg, &first, &last)
	if err != nil {
		return SensorStats{}, false, fmt.Errorf("stats query failed: %w", err)
	}
	if count == 0 {
		return SensorStats{SensorID: sensorID}, false, nil
	}

	stats = SensorStats{
		SensorID: sensorID,
		Count:    count,
		CO2:      GasStats{Min: ptr(co2Min), Max: ptr(co2Max), Avg: ptr(co2Avg), Samples: co2Samples},
		TVOC:     GasStats{Min: ptr(tvMin), Max: ptr(tvMax), Avg: ptr(tvAvg), Samples: tvocSample},
	}
	if first.Valid {
		f := first.Time.UTC()
		stats.First = &f
	}
	if last.Valid {
		l := last.Time.UTC()
		stats.Last = &l
	}
	return stats, true, nil
}

// Sensors returns the ids that have indexed readings.
func (idx *Index) Sensors(ctx context.Context) ([]string, error) {
	if err := idx.acquire(ctx); err != nil {
		return nil, err
	}
	defer idx.release()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rows, err := idx.db.QueryContext(ctx, "SELECT DISTINCT sensor_id FROM readings")
	if err != nil {
		return nil, fmt.Errorf("sensors query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}

// Close releases the database.
func (idx *Index) Close() error {
	if idx.db != nil {
		return idx.db.Close()
	}
	return nil
}

func (idx *Index) acquire(ctx context.Context) error {
	select {
	case idx.querySem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (idx *Index) release() {
	<-idx.querySem
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
