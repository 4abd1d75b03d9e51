package simulator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store errors.
var (
	ErrNotFound     = errors.New("simulator: not found")
	ErrDuplicate    = errors.New("simulator: already exists")
	ErrTokenInvalid = errors.New("simulator: invalid token")
)

// UserRecord is an account row. A user holds at most one role and one
// group in the simulator; that is enough to exercise multi-valued claim
// decoding on the client side, which also accepts the collapsed
// single-value shape.
type UserRecord struct {
	ID           string
	UserName     string
	PasswordHash string
	FirstName    string
	LastName     string
	RoleID       string
	RoleName     string
	GroupID      string
	GroupName    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeviceRecord is a registered device row.
type DeviceRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	APIKey     string    `json:"apiKey"`
	DataFormat string    `json:"dataFormat"`
	IsActive   bool      `json:"isActive"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    user_name     TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    first_name    TEXT NOT NULL DEFAULT '',
    last_name     TEXT NOT NULL DEFAULT '',
    role_id       TEXT NOT NULL DEFAULT '',
    role_name     TEXT NOT NULL DEFAULT '',
    group_id      TEXT NOT NULL DEFAULT '',
    group_name    TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    api_key     TEXT NOT NULL,
    data_format TEXT NOT NULL DEFAULT 'json',
    is_active   INTEGER NOT NULL DEFAULT 1,
    latitude    REAL NOT NULL DEFAULT 0,
    longitude   REAL NOT NULL DEFAULT 0,
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);
`

// Store persists simulator state in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and initialises) the simulator database. Use ":memory:"
// for an ephemeral store in tests.
func OpenStore(path string) (*Store, error) {
	connStr := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("initialising schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, u *UserRecord) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, user_name, password_hash, first_name, last_name,
		                   role_id, role_name, group_id, group_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.UserName, u.PasswordHash, u.FirstName, u.LastName,
		u.RoleID, u.RoleName, u.GroupID, u.GroupName, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %q", ErrDuplicate, u.UserName)
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// UserByName fetches an account by username.
func (s *Store) UserByName(ctx context.Context, name string) (*UserRecord, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, user_name, password_hash, first_name, last_name,
		       role_id, role_name, group_id, group_name, created_at, updated_at
		FROM users WHERE user_name = ?`, name))
}

// UserByID fetches an account by ID.
func (s *Store) UserByID(ctx context.Context, id string) (*UserRecord, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, user_name, password_hash, first_name, last_name,
		       role_id, role_name, group_id, group_name, created_at, updated_at
		FROM users WHERE id = ?`, id))
}

func (s *Store) scanUser(row *sql.Row) (*UserRecord, error) {
	var u UserRecord
	err := row.Scan(&u.ID, &u.UserName, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.RoleID, &u.RoleName, &u.GroupID, &u.GroupName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

// CreateDevice inserts a new device.
func (s *Store) CreateDevice(ctx context.Context, d *DeviceRecord) error {
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, api_key, data_format, is_active,
		                     latitude, longitude, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.APIKey, d.DataFormat, d.IsActive,
		d.Latitude, d.Longitude, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: device %q", ErrDuplicate, d.ID)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// ListDevices returns all devices ordered by name.
func (s *Store) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, api_key, data_format, is_active,
		       latitude, longitude, created_at, updated_at
		FROM devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceRecord
	for rows.Next() {
		var d DeviceRecord
		if err := rows.Scan(&d.ID, &d.Name, &d.APIKey, &d.DataFormat, &d.IsActive,
			&d.Latitude, &d.Longitude, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// DeviceByID fetches a device.
func (s *Store) DeviceByID(ctx context.Context, id string) (*DeviceRecord, error) {
	var d DeviceRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key, data_format, is_active,
		       latitude, longitude, created_at, updated_at
		FROM devices WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &d.APIKey, &d.DataFormat, &d.IsActive,
			&d.Latitude, &d.Longitude, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	return &d, nil
}

// UpdateDevice replaces the mutable fields of a device.
func (s *Store) UpdateDevice(ctx context.Context, d *DeviceRecord) error {
	d.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, api_key = ?, data_format = ?,
		                   is_active = ?, latitude = ?, longitude = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, d.APIKey, d.DataFormat, d.IsActive, d.Latitude, d.Longitude,
		d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // SQLite always reports affected rows
		return fmt.Errorf("%w: device %q", ErrNotFound, d.ID)
	}
	return nil
}

// DeleteDevice removes a device.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // SQLite always reports affected rows
		return fmt.Errorf("%w: device %q", ErrNotFound, id)
	}
	return nil
}

// isUniqueViolation reports whether an error is a SQLite unique
// constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
