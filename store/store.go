package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists the account roster so known usernames survive a restart.
// Only the list of names is kept; presence and queued messages are
// in-memory state and are not persisted.
type Store struct {
	conn *sql.DB
}

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	return err
}

// Load returns all persisted usernames in creation order, for seeding the
// registry at startup.
func (s *Store) Load() ([]string, error) {
	rows, err := s.conn.Query("SELECT username FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Append records a newly created username. Re-appending an existing name
// is a no-op, matching the registry's idempotent create-then-login path.
func (s *Store) Append(username string) error {
	_, err := s.conn.Exec("INSERT OR IGNORE INTO accounts (username) VALUES (?)", username)
	return err
}

// Remove drops a username from the roster.
func (s *Store) Remove(username string) error {
	_, err := s.conn.Exec("DELETE FROM accounts WHERE username = ?", username)
	return err
}
