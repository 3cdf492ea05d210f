package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/phishguard/internal/fingerprint"
	"github.com/nao1215/phishguard/internal/model"
)

// FileName is the name of the database file inside the data directory.
const FileName = "phishguard.db"

// timestampLayout is fixed width so that stored timestamps sort
// lexically.
const timestampLayout = "2006-01-02 15:04:05.000000000"

// ErrMissingID is returned when saving an analysis without an ID.
var ErrMissingID = errors.New("analysis has no id")

// HistoryDB stores completed analyses.
type HistoryDB struct {
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string

	now func() time.Time
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a HistoryDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is
// returned.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{
		db:     db,
		dbPath: dbPath,
		now:    time.Now,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Path returns the database file path.
func (hdb *HistoryDB) Path() string {
	return hdb.dbPath
}

// Close closes the database connection.
func (hdb *HistoryDB) Close() error {
	return hdb.db.Close()
}

func (hdb *HistoryDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		host TEXT,
		label TEXT NOT NULL,
		probability REAL,
		confidence REAL,
		fingerprint TEXT,
		content_hash TEXT,
		timestamp DATETIME NOT NULL,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_url ON analyses(url);
	CREATE INDEX IF NOT EXISTS idx_analyses_host ON analyses(host);
	CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(timestamp);
	CREATE INDEX IF NOT EXISTS idx_analyses_content_hash ON analyses(content_hash);
	`

	_, err := hdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveAnalysis inserts an analysis or replaces the one with the same ID.
func (hdb *HistoryDB) SaveAnalysis(ctx context.Context, a *model.FullAnalysis) error {
	if a.ID == "" {
		return ErrMissingID
	}

	reportJSON, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to serialize analysis: %w", err)
	}

	ts := a.AnalyzedAt
	if ts.IsZero() {
		ts = hdb.now()
	}

	query := `
	INSERT INTO analyses (id, url, host, label, probability, confidence, fingerprint, content_hash, timestamp, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		url = excluded.url,
		host = excluded.host,
		label = excluded.label,
		probability = excluded.probability,
		confidence = excluded.confidence,
		fingerprint = excluded.fingerprint,
		content_hash = excluded.content_hash,
		timestamp = excluded.timestamp,
		report_json = excluded.report_json
	`

	_, err = hdb.db.ExecContext(ctx, query,
		a.ID,
		a.URL,
		a.Host(),
		string(a.Ensemble.Label),
		a.Ensemble.Probability,
		a.Ensemble.Confidence,
		a.Fingerprint,
		a.ContentHash,
		ts.UTC().Format(timestampLayout),
		string(reportJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// GetAnalysis returns the analysis with the given ID, or nil if there is
// none.
func (hdb *HistoryDB) GetAnalysis(ctx context.Context, id string) (*model.FullAnalysis, error) {
	query := `SELECT report_json FROM analyses WHERE id = ?`
	return hdb.queryAnalysis(ctx, query, id)
}

// GetLatest returns the most recent analysis of url, or nil if the URL was
// never analyzed.
func (hdb *HistoryDB) GetLatest(ctx context.Context, url string) (*model.FullAnalysis, error) {
	query := `
	SELECT report_json FROM analyses
	WHERE url = ?
	ORDER BY timestamp DESC
	LIMIT 1
	`
	return hdb.queryAnalysis(ctx, query, url)
}

func (hdb *HistoryDB) queryAnalysis(ctx context.Context, query string, arg any) (*model.FullAnalysis, error) {
	var reportJSON string
	err := hdb.db.QueryRowContext(ctx, query, arg).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	var a model.FullAnalysis
	if err := json.Unmarshal([]byte(reportJSON), &a); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	return &a, nil
}

// Metadata summarizes a stored analysis without loading its report.
type Metadata struct {
	ID          string
	URL         string
	Label       model.Label
	Probability float64
	Confidence  float64
	Fingerprint string
	Timestamp   time.Time
}

// History returns the stored analyses of url, newest first. An empty url
// lists every stored analysis.
func (hdb *HistoryDB) History(ctx context.Context, url string) ([]Metadata, error) {
	query := `
	SELECT id, url, label, probability, confidence, fingerprint, timestamp
	FROM analyses
	WHERE (? = '' OR url = ?)
	ORDER BY timestamp DESC
	`

	rows, err := hdb.db.QueryContext(ctx, query, url, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var results []Metadata
	for rows.Next() {
		var (
			meta        Metadata
			label       string
			fingerprint sql.NullString
			timestamp   string
		)
		if err := rows.Scan(&meta.ID, &meta.URL, &label, &meta.Probability, &meta.Confidence, &fingerprint, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		meta.Label = model.Label(label)
		meta.Fingerprint = fingerprint.String
		meta.Timestamp = parseTimestamp(timestamp)
		results = append(results, meta)
	}

	return results, rows.Err()
}

// ListURLs returns every analyzed URL in lexical order.
func (hdb *HistoryDB) ListURLs(ctx context.Context) ([]string, error) {
	rows, err := hdb.db.QueryContext(ctx, `SELECT DISTINCT url FROM analyses ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		urls = append(urls, u)
	}

	return urls, rows.Err()
}

// FindSimilar returns stored analyses whose fingerprint lies within
// maxDistance of digest, closest first. excludeID is skipped so an
// analysis never matches itself.
func (hdb *HistoryDB) FindSimilar(ctx context.Context, digest string, maxDistance int, excludeID string) ([]model.SimilarPage, error) {
	// Validate the probe before scanning the table.
	if _, err := fingerprint.Distance(digest, digest); err != nil {
		return nil, err
	}

	query := `
	SELECT id, url, label, fingerprint, timestamp
	FROM analyses
	WHERE fingerprint IS NOT NULL AND fingerprint != '' AND id != ?
	`

	rows, err := hdb.db.QueryContext(ctx, query, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	var matches []model.SimilarPage
	for rows.Next() {
		var (
			page      model.SimilarPage
			label     string
			stored    string
			timestamp string
		)
		if err := rows.Scan(&page.ID, &page.URL, &label, &stored, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		d, err := fingerprint.Distance(digest, stored)
		if err != nil || d > maxDistance {
			continue
		}
		page.Label = model.Label(label)
		page.Distance = d
		page.AnalyzedAt = parseTimestamp(timestamp)
		matches = append(matches, page)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].AnalyzedAt.After(matches[j].AnalyzedAt)
	})
	return matches, nil
}

// Stats counts stored analyses.
type Stats struct {
	Total   int                 `json:"total"`
	URLs    int                 `json:"urls"`
	ByLabel map[model.Label]int `json:"by_label"`
}

// Stats returns the number of stored analyses per ensemble label.
func (hdb *HistoryDB) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByLabel: make(map[model.Label]int)}

	rows, err := hdb.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM analyses GROUP BY label`)
	if err != nil {
		return stats, fmt.Errorf("failed to count analyses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return stats, fmt.Errorf("failed to scan count: %w", err)
		}
		stats.ByLabel[model.Label(label)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := hdb.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT url) FROM analyses`).Scan(&stats.URLs); err != nil {
		return stats, fmt.Errorf("failed to count urls: %w", err)
	}
	return stats, nil
}

// timestampFormats contains the timestamp formats that SQLite may return.
// More specific formats come first.
var timestampFormats = []string{
	timestampLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries each known format and returns the zero time if none
// matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
