package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        industry TEXT NOT NULL DEFAULT '',
        employment_status TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS targets (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        type TEXT NOT NULL DEFAULT 'general' CHECK (type IN ('kpi', 'ksb', 'sales', 'general')),
        target_value REAL,
        current_value REAL NOT NULL DEFAULT 0,
        unit TEXT NOT NULL DEFAULT '',
        deadline DATETIME,
        status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'archived')),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS work_entries (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        redacted_summary TEXT NOT NULL,
        encrypted_original BLOB NOT NULL,
        skills_json TEXT NOT NULL DEFAULT '[]',
        achievements_json TEXT NOT NULL DEFAULT '[]',
        metrics_json TEXT NOT NULL DEFAULT '{}',
        category TEXT NOT NULL DEFAULT '',
        target_ids_json TEXT NOT NULL DEFAULT '[]',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS work_entry_targets (
        id TEXT PRIMARY KEY, -- UUID
        work_entry_id TEXT NOT NULL,
        target_id TEXT NOT NULL,
        contribution_value REAL,
        contribution_note TEXT NOT NULL DEFAULT '',
        smart_json TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (work_entry_id) REFERENCES work_entries (id),
        FOREIGN KEY (target_id) REFERENCES targets (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, industry, employment_status, created_at FROM users WHERE external_user_id = ?", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.Industry, &user.EmploymentStatus, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetUserByID(id)
}

func (s *SQLiteStore) GetUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, industry, employment_status, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.Industry, &user.EmploymentStatus, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) UpdateUserProfile(userID int64, industry, employmentStatus string) error {
	res, err := s.db.Exec("UPDATE users SET industry = ?, employment_status = ? WHERE id = ?", industry, employmentStatus, userID)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user not found, profile not updated")
	}
	return nil
}

// Target methods
func (s *SQLiteStore) CreateTarget(t *Target) error {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now()
	if t.Type == "" {
		t.Type = "general"
	}
	if t.Status == "" {
		t.Status = TargetStatusActive
	}

	stmt, err := s.db.Prepare("INSERT INTO targets (id, user_id, name, description, type, target_value, current_value, unit, deadline, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare target insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(t.ID, t.UserID, t.Name, t.Description, t.Type, t.TargetValue, t.CurrentValue, t.Unit, t.Deadline, t.Status, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute target insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTargetsByUserID(userID int64, activeOnly bool) ([]Target, error) {
	query := "SELECT id, user_id, name, description, type, target_value, current_value, unit, deadline, status, created_at FROM targets WHERE user_id = ?"
	if activeOnly {
		query += " AND status = 'active'"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, nil
}

func (s *SQLiteStore) GetTargetByID(targetID string, userID int64) (*Target, error) {
	row := s.db.QueryRow("SELECT id, user_id, name, description, type, target_value, current_value, unit, deadline, status, created_at FROM targets WHERE id = ? AND user_id = ?", targetID, userID)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (*Target, error) {
	var t Target
	var targetValue sql.NullFloat64
	var deadline sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &t.Type, &targetValue, &t.CurrentValue, &t.Unit, &deadline, &t.Status, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan target row: %w", err)
	}
	if targetValue.Valid {
		t.TargetValue = &targetValue.Float64
	}
	if deadline.Valid {
		t.Deadline = &deadline.Time
	}
	return &t, nil
}

func (s *SQLiteStore) ArchiveTarget(targetID string, userID int64) error {
	res, err := s.db.Exec("UPDATE targets SET status = 'archived' WHERE id = ? AND user_id = ?", targetID, userID)
	if err != nil {
		return fmt.Errorf("failed to archive target: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("target not found or not owned by user")
	}
	return nil
}

// IncrementTargetValue applies an additive progress update to a target.
// Negative deltas are how a deleted work entry's contributions get reversed.
func (s *SQLiteStore) IncrementTargetValue(targetID string, userID int64, delta float64) error {
	res, err := s.db.Exec("UPDATE targets SET current_value = current_value + ? WHERE id = ? AND user_id = ?", delta, targetID, userID)
	if err != nil {
		return fmt.Errorf("failed to increment target value: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("target not found or not owned by user, value not updated")
	}
	return nil
}

// Work entry methods
func (s *SQLiteStore) CreateWorkEntry(e *WorkEntry) error {
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now()

	skillsJSON, err := marshalOr(e.Skills, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal skills: %w", err)
	}
	achievementsJSON, err := marshalOr(e.Achievements, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal achievements: %w", err)
	}
	metricsJSON, err := marshalOr(e.Metrics, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	targetIDsJSON, err := marshalOr(e.TargetIDs, "[]")
	if err != nil {
		return fmt.Errorf("failed to marshal target ids: %w", err)
	}

	stmt, err := s.db.Prepare("INSERT INTO work_entries (id, user_id, redacted_summary, encrypted_original, skills_json, achievements_json, metrics_json, category, target_ids_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare work entry insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(e.ID, e.UserID, e.RedactedSummary, e.EncryptedOriginal, skillsJSON, achievementsJSON, metricsJSON, e.Category, targetIDsJSON, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute work entry insert: %w", err)
	}
	return nil
}

func marshalOr(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetWorkEntriesByUserID lists a user's entries, newest first. The ciphertext
// column is not loaded; nothing in this subsystem reads it back.
func (s *SQLiteStore) GetWorkEntriesByUserID(userID int64) ([]WorkEntry, error) {
	rows, err := s.db.Query("SELECT id, user_id, redacted_summary, skills_json, achievements_json, metrics_json, category, target_ids_json, created_at FROM work_entries WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work entries: %w", err)
	}
	defer rows.Close()

	var entries []WorkEntry
	for rows.Next() {
		var e WorkEntry
		var skillsJSON, achievementsJSON, metricsJSON, targetIDsJSON string
		if err := rows.Scan(&e.ID, &e.UserID, &e.RedactedSummary, &skillsJSON, &achievementsJSON, &metricsJSON, &e.Category, &targetIDsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan work entry row: %w", err)
		}
		if err := unmarshalEntryJSON(&e, skillsJSON, achievementsJSON, metricsJSON, targetIDsJSON); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *SQLiteStore) GetWorkEntryByID(entryID string, userID int64) (*WorkEntry, error) {
	var e WorkEntry
	var skillsJSON, achievementsJSON, metricsJSON, targetIDsJSON string
	err := s.db.QueryRow("SELECT id, user_id, redacted_summary, skills_json, achievements_json, metrics_json, category, target_ids_json, created_at FROM work_entries WHERE id = ? AND user_id = ?", entryID, userID).
		Scan(&e.ID, &e.UserID, &e.RedactedSummary, &skillsJSON, &achievementsJSON, &metricsJSON, &e.Category, &targetIDsJSON, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get work entry: %w", err)
	}
	if err := unmarshalEntryJSON(&e, skillsJSON, achievementsJSON, metricsJSON, targetIDsJSON); err != nil {
		return nil, err
	}
	return &e, nil
}

func unmarshalEntryJSON(e *WorkEntry, skillsJSON, achievementsJSON, metricsJSON, targetIDsJSON string) error {
	if err := json.Unmarshal([]byte(skillsJSON), &e.Skills); err != nil {
		return fmt.Errorf("failed to unmarshal skills for entry %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(achievementsJSON), &e.Achievements); err != nil {
		return fmt.Errorf("failed to unmarshal achievements for entry %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &e.Metrics); err != nil {
		return fmt.Errorf("failed to unmarshal metrics for entry %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(targetIDsJSON), &e.TargetIDs); err != nil {
		return fmt.Errorf("failed to unmarshal target ids for entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteWorkEntry(entryID string, userID int64) error {
	res, err := s.db.Exec("DELETE FROM work_entries WHERE id = ? AND user_id = ?", entryID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete work entry: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("work entry not found or not owned by user")
	}
	if _, err := s.db.Exec("DELETE FROM work_entry_targets WHERE work_entry_id = ?", entryID); err != nil {
		return fmt.Errorf("failed to delete work entry mappings: %w", err)
	}
	return nil
}

// Mapping row methods
func (s *SQLiteStore) CreateWorkEntryTarget(m *WorkEntryTarget) error {
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now()

	var smartJSON any
	if len(m.SMARTData) > 0 {
		smartJSON = string(m.SMARTData)
	}

	stmt, err := s.db.Prepare("INSERT INTO work_entry_targets (id, work_entry_id, target_id, contribution_value, contribution_note, smart_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare mapping insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(m.ID, m.WorkEntryID, m.TargetID, m.ContributionValue, m.ContributionNote, smartJSON, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute mapping insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorkEntryTargets(workEntryID string) ([]WorkEntryTarget, error) {
	rows, err := s.db.Query("SELECT id, work_entry_id, target_id, contribution_value, contribution_note, smart_json, created_at FROM work_entry_targets WHERE work_entry_id = ?", workEntryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []WorkEntryTarget
	for rows.Next() {
		var m WorkEntryTarget
		var contribution sql.NullFloat64
		var smartJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.WorkEntryID, &m.TargetID, &contribution, &m.ContributionNote, &smartJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		if contribution.Valid {
			m.ContributionValue = &contribution.Float64
		}
		if smartJSON.Valid {
			m.SMARTData = json.RawMessage(smartJSON.String)
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}
