package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	conn *sql.DB
}

// InstallStamp records the requirements digest of the last successful install.
type InstallStamp struct {
	RequirementsPath string    `json:"requirements_path"`
	Digest           string    `json:"digest"`
	InstalledAt      time.Time `json:"installed_at"`
}

// Launch is one hand-off to the bot entry point.
type Launch struct {
	ID            int       `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	PythonVersion string    `json:"python_version"`
	Root          string    `json:"root"`
	EntryModule   string    `json:"entry_module"`
}

// NewDB creates a new database connection and initializes tables
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	// Initialize tables
	if err := db.initTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initTables creates the necessary database tables
func (db *DB) initTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS install_stamps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		requirements_path TEXT NOT NULL UNIQUE,
		digest TEXT NOT NULL,
		installed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS launches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		python_version TEXT NOT NULL,
		root TEXT NOT NULL,
		entry_module TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_launches_started_at ON launches(started_at);
	`

	_, err := db.conn.Exec(query)
	return err
}

// GetInstallStamp returns the digest stored for a requirements file, or an
// empty string when it has never been installed.
func (db *DB) GetInstallStamp(requirementsPath string) (string, error) {
	query := `SELECT digest FROM install_stamps WHERE requirements_path = ?`

	var digest string
	err := db.conn.QueryRow(query, requirementsPath).Scan(&digest)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get install stamp: %w", err)
	}

	return digest, nil
}

// PutInstallStamp stores or updates the digest for a requirements file
func (db *DB) PutInstallStamp(requirementsPath, digest string) error {
	query := `
	INSERT INTO install_stamps (requirements_path, digest, installed_at)
	VALUES (?, ?, ?)
	ON CONFLICT(requirements_path)
	DO UPDATE SET
		digest = excluded.digest,
		installed_at = excluded.installed_at
	`

	_, err := db.conn.Exec(query, requirementsPath, digest, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store install stamp: %w", err)
	}

	return nil
}

// ClearInstallStamp forgets the digest for a requirements file so the next
// run reinstalls.
func (db *DB) ClearInstallStamp(requirementsPath string) error {
	_, err := db.conn.Exec(`DELETE FROM install_stamps WHERE requirements_path = ?`, requirementsPath)
	if err != nil {
		return fmt.Errorf("failed to clear install stamp: %w", err)
	}
	return nil
}

// RecordLaunch stores a launch record. A zero StartedAt means now.
func (db *DB) RecordLaunch(l Launch) error {
	if l.StartedAt.IsZero() {
		l.StartedAt = time.Now()
	}

	query := `
	INSERT INTO launches (started_at, python_version, root, entry_module)
	VALUES (?, ?, ?, ?)
	`

	_, err := db.conn.Exec(query, l.StartedAt.UTC(), l.PythonVersion, l.Root, l.EntryModule)
	if err != nil {
		return fmt.Errorf("failed to record launch: %w", err)
	}

	return nil
}

// ListLaunches returns launches started at or after since, newest first
func (db *DB) ListLaunches(since time.Time) ([]Launch, error) {
	query := `
	SELECT id, started_at, python_version, root, entry_module
	FROM launches
	WHERE started_at >= ?
	ORDER BY started_at DESC, id DESC
	`

	rows, err := db.conn.Query(query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query launches: %w", err)
	}
	defer rows.Close()

	var launches []Launch
	for rows.Next() {
		var l Launch
		err := rows.Scan(&l.ID, &l.StartedAt, &l.PythonVersion, &l.Root, &l.EntryModule)
		if err != nil {
			return nil, fmt.Errorf("failed to scan launch: %w", err)
		}
		launches = append(launches, l)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating launches: %w", err)
	}

	return launches, nil
}

// GetStats returns some basic statistics about the database
func (db *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalLaunches int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM launches").Scan(&totalLaunches)
	if err != nil {
		return nil, fmt.Errorf("failed to count launches: %w", err)
	}
	stats["total_launches"] = totalLaunches

	var stamps int
	err = db.conn.QueryRow("SELECT COUNT(*) FROM install_stamps").Scan(&stamps)
	if err != nil {
		return nil, fmt.Errorf("failed to count install stamps: %w", err)
	}
	stats["install_stamps"] = stamps

	var lastLaunch sql.NullString
	err = db.conn.QueryRow("SELECT MAX(started_at) FROM launches").Scan(&lastLaunch)
	if err != nil {
		return nil, fmt.Errorf("failed to get last launch: %w", err)
	}
	if lastLaunch.Valid {
		stats["last_launch"] = lastLaunch.String
	} else {
		stats["last_launch"] = "never"
	}

	return stats, nil
}
