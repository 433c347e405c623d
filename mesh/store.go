package mesh

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists node records and traceroute observations in SQLite. It is
// the durable input of the estimation pipeline: MQTT ingest writes into it,
// every refresh reads a snapshot back out.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc/sqlite serializes internally, but a single connection keeps
	// in-memory databases from fragmenting into per-conn instances.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		node_num INTEGER PRIMARY KEY,
		node_id TEXT,
		long_name TEXT,
		short_name TEXT,
		hw_model TEXT,
		role TEXT,
		lat REAL,
		lon REAL,
		last_heard INTEGER,
		updated_at_utc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS traceroutes (
		trace_id INTEGER PRIMARY KEY AUTOINCREMENT,
		captured_at_utc TEXT,
		towards_nums_json TEXT NOT NULL,
		back_nums_json TEXT NOT NULL,
		towards_snr_json TEXT NOT NULL,
		back_snr_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traceroutes_captured
		ON traceroutes (captured_at_utc);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func utcNow() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05 UTC")
}

// UpsertNode merges a node record. Fields that are empty or nil in the
// update keep their stored value, so partial nodeinfo and position packets
// accumulate instead of overwriting each other.
func (s *Store) UpsertNode(n Node) error {
	_, err := s.db.Exec(`
		INSERT INTO nodes (
			node_num, node_id, long_name, short_name, hw_model, role,
			lat, lon, last_heard, updated_at_utc
		)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, 0), ?)
		ON CONFLICT(node_num) DO UPDATE SET
			node_id = COALESCE(excluded.node_id, nodes.node_id),
			long_name = COALESCE(excluded.long_name, nodes.long_name),
			short_name = COALESCE(excluded.short_name, nodes.short_name),
			hw_model = COALESCE(excluded.hw_model, nodes.hw_model),
			role = COALESCE(excluded.role, nodes.role),
			lat = COALESCE(excluded.lat, nodes.lat),
			lon = COALESCE(excluded.lon, nodes.lon),
			last_heard = COALESCE(excluded.last_heard, nodes.last_heard),
			updated_at_utc = excluded.updated_at_utc
	`,
		n.Num, n.ID, n.LongName, n.ShortName, n.HWModel, n.Role,
		coordValue(n.Lat), coordValue(n.Lon), n.LastHeard, utcNow(),
	)
	if err != nil {
		return fmt.Errorf("upserting node %d: %w", n.Num, err)
	}
	return nil
}

func coordValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// AddTraceroute appends one traceroute observation.
func (s *Store) AddTraceroute(tr Trace) error {
	capturedAt := tr.CapturedAt
	if capturedAt == "" {
		capturedAt = utcNow()
	}
	towards, err := json.Marshal(tr.TowardsNums)
	if err != nil {
		return fmt.Errorf("encoding towards route: %w", err)
	}
	back, err := json.Marshal(tr.BackNums)
	if err != nil {
		return fmt.Errorf("encoding back route: %w", err)
	}
	towardsSNR, err := json.Marshal(tr.TowardsSNR)
	if err != nil {
		return fmt.Errorf("encoding towards SNR: %w", err)
	}
	backSNR, err := json.Marshal(tr.BackSNR)
	if err != nil {
		return fmt.Errorf("encoding back SNR: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO traceroutes (
			captured_at_utc, towards_nums_json, back_nums_json,
			towards_snr_json, back_snr_json
		)
		VALUES (?, ?, ?, ?, ?)
	`, capturedAt, string(towards), string(back), string(towardsSNR), string(backSNR))
	if err != nil {
		return fmt.Errorf("inserting traceroute: %w", err)
	}
	return nil
}

// Snapshot reads all nodes plus the most recent maxTraces traceroutes, the
// working set one estimation pass runs on. Traces come back oldest-first so
// replays accumulate edge statistics in capture order.
func (s *Store) Snapshot(maxTraces int) ([]Node, []Trace, error) {
	nodes, err := s.loadNodes()
	if err != nil {
		return nil, nil, err
	}
	traces, err := s.loadTraces(maxTraces)
	if err != nil {
		return nil, nil, err
	}
	return nodes, traces, nil
}

func (s *Store) loadNodes() ([]Node, error) {
	rows, err := s.db.Query(`
		SELECT node_num, node_id, long_name, short_name, hw_model, role,
		       lat, lon, last_heard
		FROM nodes
		ORDER BY node_num
	`)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var (
			n         Node
			id        sql.NullString
			longName  sql.NullString
			shortName sql.NullString
			hwModel   sql.NullString
			role      sql.NullString
			lat, lon  sql.NullFloat64
			lastHeard sql.NullInt64
		)
		if err := rows.Scan(&n.Num, &id, &longName, &shortName, &hwModel, &role,
			&lat, &lon, &lastHeard); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		n.ID = id.String
		n.LongName = longName.String
		n.ShortName = shortName.String
		n.HWModel = hwModel.String
		n.Role = role.String
		if lat.Valid && lon.Valid {
			n.SetCoord(lat.Float64, lon.Float64)
		}
		n.LastHeard = lastHeard.Int64
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *Store) loadTraces(maxTraces int) ([]Trace, error) {
	if maxTraces <= 0 {
		maxTraces = 500
	}
	// Newest N by insertion order, then flipped back to oldest-first.
	rows, err := s.db.Query(`
		SELECT captured_at_utc, towards_nums_json, back_nums_json,
		       towards_snr_json, back_snr_json
		FROM traceroutes
		ORDER BY trace_id DESC
		LIMIT ?
	`, maxTraces)
	if err != nil {
		return nil, fmt.Errorf("querying traceroutes: %w", err)
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var (
			capturedAt                       sql.NullString
			towards, back, towardsSNR, bkSNR string
		)
		if err := rows.Scan(&capturedAt, &towards, &back, &towardsSNR, &bkSNR); err != nil {
			return nil, fmt.Errorf("scanning traceroute: %w", err)
		}
		var tr Trace
		tr.CapturedAt = capturedAt.String
		// Route decoding is lenient and cannot fail; malformed stored JSON
		// degrades to an empty route.
		_ = json.Unmarshal([]byte(towards), &tr.TowardsNums)
		_ = json.Unmarshal([]byte(back), &tr.BackNums)
		_ = json.Unmarshal([]byte(towardsSNR), &tr.TowardsSNR)
		_ = json.Unmarshal([]byte(bkSNR), &tr.BackSNR)
		traces = append(traces, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(traces)-1; i < j; i, j = i+1, j-1 {
		traces[i], traces[j] = traces[j], traces[i]
	}
	return traces, nil
}

// PruneTraceroutes deletes traceroutes captured before the retention
// window. A non-positive retention disables pruning. Returns the number of
// rows removed.
func (s *Store) PruneTraceroutes(retentionHours int) (int64, error) {
	if retentionHours <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-time.Duration(retentionHours) * time.Hour).
		Format("2006-01-02 15:04:05 UTC")
	res, err := s.db.Exec(`
		DELETE FROM traceroutes
		WHERE captured_at_utc IS NOT NULL
		  AND captured_at_utc <> ''
		  AND captured_at_utc < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning traceroutes: %w", err)
	}
	return res.RowsAffected()
}
