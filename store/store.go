// Package store persists worklist items in SQLite. The database is the
// durable handoff between relay-delivered scheduling commands and the
// modality-facing worklist and MPPS services.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no worklist item matches.
	ErrNotFound = errors.New("store: worklist item not found")
	// ErrDuplicateAccession is returned when adding an item whose
	// accession number already exists.
	ErrDuplicateAccession = errors.New("store: accession number already exists")
)

// Item statuses follow the procedure step lifecycle. An item starts as
// SCHEDULED and leaves the worklist once a modality reports progress.
const (
	StatusScheduled    = "SCHEDULED"
	StatusInProgress   = "IN_PROGRESS"
	StatusCompleted    = "COMPLETED"
	StatusDiscontinued = "DISCONTINUED"
)

// Item is one scheduled procedure in the worklist.
type Item struct {
	AccessionNumber  string
	PatientID        string
	PatientName      string
	PatientBirthDate string
	PatientSex       string
	ScheduledDate    string
	ScheduledTime    string
	Modality         string
	StudyDescription string
	ProcedureCode    string
	StudyInstanceUID string
	Status           string
	MPPSInstanceUID  string
	SourceMessageID  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Query filters worklist lookups. Empty fields match everything.
type Query struct {
	Modality      string
	ScheduledDate string
	PatientID     string
	Status        string
}

// Statistics summarizes the worklist contents.
type Statistics struct {
	Total    int
	ByStatus map[string]int
}

// Store wraps the SQLite database holding worklist items.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS worklist_items (
	accession_number   TEXT PRIMARY KEY,
	patient_id         TEXT NOT NULL,
	patient_name       TEXT NOT NULL,
	patient_birth_date TEXT NOT NULL DEFAULT '',
	patient_sex        TEXT NOT NULL DEFAULT '',
	scheduled_date     TEXT NOT NULL,
	scheduled_time     TEXT NOT NULL DEFAULT '',
	modality           TEXT NOT NULL,
	study_description  TEXT NOT NULL DEFAULT '',
	procedure_code     TEXT NOT NULL DEFAULT '',
	study_instance_uid TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'SCHEDULED',
	mpps_instance_uid  TEXT NOT NULL DEFAULT '',
	source_message_id  TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_worklist_status ON worklist_items(status);
CREATE INDEX IF NOT EXISTS idx_worklist_modality_date ON worklist_items(modality, scheduled_date);
`

// Open opens (creating if needed) the worklist database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Serialize writers; SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a new worklist item with status SCHEDULED.
func (s *Store) Add(item *Item) error {
	_, err := s.db.Exec(`
		INSERT INTO worklist_items (
			accession_number, patient_id, patient_name, patient_birth_date,
			patient_sex, scheduled_date, scheduled_time, modality,
			study_description, procedure_code, study_instance_uid,
			status, source_message_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.AccessionNumber, item.PatientID, item.PatientName, item.PatientBirthDate,
		item.PatientSex, item.ScheduledDate, item.ScheduledTime, item.Modality,
		item.StudyDescription, item.ProcedureCode, item.StudyInstanceUID,
		StatusScheduled, item.SourceMessageID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateAccession
		}
		return fmt.Errorf("store: insert item: %w", err)
	}
	return nil
}

const itemColumns = `accession_number, patient_id, patient_name, patient_birth_date,
	patient_sex, scheduled_date, scheduled_time, modality, study_description,
	procedure_code, study_instance_uid, status, mpps_instance_uid,
	source_message_id, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	var item Item
	err := row.Scan(
		&item.AccessionNumber, &item.PatientID, &item.PatientName, &item.PatientBirthDate,
		&item.PatientSex, &item.ScheduledDate, &item.ScheduledTime, &item.Modality,
		&item.StudyDescription, &item.ProcedureCode, &item.StudyInstanceUID,
		&item.Status, &item.MPPSInstanceUID, &item.SourceMessageID,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Get returns the item with the given accession number.
func (s *Store) Get(accessionNumber string) (*Item, error) {
	row := s.db.QueryRow(
		"SELECT "+itemColumns+" FROM worklist_items WHERE accession_number = ?",
		accessionNumber)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get item: %w", err)
	}
	return item, nil
}

// Find returns items matching the query, ordered by scheduled date and time.
func (s *Store) Find(query Query) ([]*Item, error) {
	where := []string{"1=1"}
	var args []any

	if query.Modality != "" {
		where = append(where, "modality = ?")
		args = append(args, query.Modality)
	}
	if query.ScheduledDate != "" {
		where = append(where, "scheduled_date = ?")
		args = append(args, query.ScheduledDate)
	}
	if query.PatientID != "" {
		where = append(where, "patient_id = ?")
		args = append(args, query.PatientID)
	}
	if query.Status != "" {
		where = append(where, "status = ?")
		args = append(args, query.Status)
	}

	rows, err := s.db.Query(
		"SELECT "+itemColumns+" FROM worklist_items WHERE "+strings.Join(where, " AND ")+
			" ORDER BY scheduled_date, scheduled_time",
		args...)
	if err != nil {
		return nil, fmt.Errorf("store: find items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateStatus moves an item to a new procedure step status, recording the
// MPPS instance UID the first time one is supplied. Items never return to
// SCHEDULED once a modality has claimed them. It returns the item's source
// message ID so callers can correlate outbound events.
func (s *Store) UpdateStatus(accessionNumber, status, mppsInstanceUID string) (string, error) {
	result, err := s.db.Exec(`
		UPDATE worklist_items
		SET status = ?,
		    mpps_instance_uid = CASE WHEN mpps_instance_uid = '' THEN ? ELSE mpps_instance_uid END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE accession_number = ? AND NOT (? = 'SCHEDULED' AND status != 'SCHEDULED')`,
		status, mppsInstanceUID, accessionNumber, status)
	if err != nil {
		return "", fmt.Errorf("store: update status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("store: update status: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing item from a forbidden transition.
		if _, err := s.Get(accessionNumber); err != nil {
			return "", err
		}
		return "", fmt.Errorf("store: item %s cannot return to SCHEDULED", accessionNumber)
	}

	var sourceMessageID string
	err = s.db.QueryRow(
		"SELECT source_message_id FROM worklist_items WHERE accession_number = ?",
		accessionNumber).Scan(&sourceMessageID)
	if err != nil {
		return "", fmt.Errorf("store: read source message id: %w", err)
	}
	return sourceMessageID, nil
}

// UpdateStudyInstanceUID records a study instance UID for an item that was
// created without one.
func (s *Store) UpdateStudyInstanceUID(accessionNumber, studyInstanceUID string) error {
	result, err := s.db.Exec(`
		UPDATE worklist_items
		SET study_instance_uid = ?, updated_at = CURRENT_TIMESTAMP
		WHERE accession_number = ?`,
		studyInstanceUID, accessionNumber)
	if err != nil {
		return fmt.Errorf("store: update study instance uid: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update study instance uid: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an item regardless of its status.
func (s *Store) Delete(accessionNumber string) error {
	result, err := s.db.Exec(
		"DELETE FROM worklist_items WHERE accession_number = ?", accessionNumber)
	if err != nil {
		return fmt.Errorf("store: delete item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete item: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Statistics reports item counts overall and per status.
func (s *Store) Statistics() (*Statistics, error) {
	rows, err := s.db.Query(
		"SELECT status, COUNT(*) FROM worklist_items GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("store: statistics: %w", err)
	}
	defer rows.Close()

	stats := &Statistics{ByStatus: make(map[string]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("store: statistics: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// PurgeOlderThan deletes completed and discontinued items last updated
// more than the given number of days ago. Items still scheduled or in
// progress are kept. It returns the number of deleted items.
func (s *Store) PurgeOlderThan(days int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM worklist_items
		WHERE status IN (?, ?)
		  AND updated_at < datetime('now', ?)`,
		StatusCompleted, StatusDiscontinued, fmt.Sprintf("-%d days", days))
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return result.RowsAffected()
}
