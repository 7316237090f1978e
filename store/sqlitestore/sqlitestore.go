/*
 * mailsync - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mailsync/store"
)

// SQLiteStore implements store.Store on a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables
// WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SyncStatus returns the stored cursor, or nil if the folder has never
// been reconciled.
func (s *SQLiteStore) SyncStatus(account, folder string) (*store.SyncStatus, error) {
	var row struct {
		UIDValidity uint32    `db:"uid_validity"`
		HighestUID  uint32    `db:"highest_uid"`
		LastSync    time.Time `db:"last_sync"`
	}

	err := s.db.Get(&row,
		"SELECT uid_validity, highest_uid, last_sync FROM sync_status WHERE account = ? AND folder = ?",
		account, folder,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("querying sync status: %w", err)
	}

	return &store.SyncStatus{
		UIDValidity: row.UIDValidity,
		HighestUID:  row.HighestUID,
		LastSync:    row.LastSync,
	}, nil
}

func (s *SQLiteStore) SaveSyncStatus(account, folder string, status *store.SyncStatus) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (account, folder, uid_validity, highest_uid, last_sync)
		VALUES (?, ?, ?, ?, ?)`,
		account, folder, status.UIDValidity, status.HighestUID, status.LastSync.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving sync status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSyncStatus(account, folder string) error {
	_, err := s.db.Exec(
		"DELETE FROM sync_status WHERE account = ? AND folder = ?",
		account, folder,
	)
	if err != nil {
		return fmt.Errorf("deleting sync status: %w", err)
	}
	return nil
}

// CachedUIDs returns the UIDs of every cached header for the folder, in
// ascending order.
func (s *SQLiteStore) CachedUIDs(account, folder string) ([]uint32, error) {
	var uids []uint32
	err := s.db.Select(&uids,
		"SELECT uid FROM headers WHERE account = ? AND folder = ? ORDER BY uid ASC",
		account, folder,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cached uids: %w", err)
	}
	return uids, nil
}

func (s *SQLiteStore) Headers(account, folder string) ([]*store.MessageHeader, error) {
	rows, err := s.db.Queryx(`
		SELECT uid, uid_validity, subject, from_addrs, to_addrs, date, flags, has_attachments, has_body
		FROM headers WHERE account = ? AND folder = ? ORDER BY uid ASC`,
		account, folder,
	)
	if err != nil {
		return nil, fmt.Errorf("querying headers: %w", err)
	}
	defer rows.Close()

	var headers []*store.MessageHeader
	for rows.Next() {
		hdr, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		headers = append(headers, hdr)
	}

	return headers, rows.Err()
}

// SaveHeaders inserts or replaces a batch of headers in one transaction,
// so a failed batch leaves the cache untouched.
func (s *SQLiteStore) SaveHeaders(account, folder string, headers []*store.MessageHeader) error {
	if len(headers) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR REPLACE INTO headers (
			account, folder, uid, uid_validity,
			subject, from_addrs, to_addrs, date,
			flags, has_attachments, has_body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.Preparex(query)
	if err != nil {
		return fmt.Errorf("preparing header statement: %w", err)
	}
	defer stmt.Close()

	for _, hdr := range headers {
		from, err := json.Marshal(hdr.From)
		if err != nil {
			return fmt.Errorf("marshaling from for uid %d: %w", hdr.UID, err)
		}
		to, err := json.Marshal(hdr.To)
		if err != nil {
			return fmt.Errorf("marshaling to for uid %d: %w", hdr.UID, err)
		}

		_, err = stmt.Exec(
			account, folder, hdr.UID, hdr.UIDValidity,
			hdr.Subject, string(from), string(to), hdr.Date.UTC(),
			store.CanonicalFlags(hdr.Flags),
			boolToInt(hdr.HasAttachments), boolToInt(hdr.HasBody),
		)
		if err != nil {
			return fmt.Errorf("saving header uid %d: %w", hdr.UID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteHeaders(account, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex("DELETE FROM headers WHERE account = ? AND folder = ? AND uid = ?")
	if err != nil {
		return fmt.Errorf("preparing delete statement: %w", err)
	}
	defer stmt.Close()

	for _, uid := range uids {
		if _, err := stmt.Exec(account, folder, uid); err != nil {
			return fmt.Errorf("deleting header uid %d: %w", uid, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpdateFlags(account, folder string, uid uint32, flags []string) error {
	_, err := s.db.Exec(
		"UPDATE headers SET flags = ? WHERE account = ? AND folder = ? AND uid = ?",
		store.CanonicalFlags(flags), account, folder, uid,
	)
	if err != nil {
		return fmt.Errorf("updating flags for uid %d: %w", uid, err)
	}
	return nil
}

func scanHeader(rows *sqlx.Rows) (*store.MessageHeader, error) {
	var (
		hdr            store.MessageHeader
		fromJSON       string
		toJSON         string
		date           time.Time
		flags          string
		hasAttachments int
		hasBody        int
	)

	err := rows.Scan(
		&hdr.UID, &hdr.UIDValidity, &hdr.Subject,
		&fromJSON, &toJSON, &date,
		&flags, &hasAttachments, &hasBody,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning header row: %w", err)
	}

	if err := json.Unmarshal([]byte(fromJSON), &hdr.From); err != nil {
		return nil, fmt.Errorf("unmarshaling from: %w", err)
	}
	if err := json.Unmarshal([]byte(toJSON), &hdr.To); err != nil {
		return nil, fmt.Errorf("unmarshaling to: %w", err)
	}

	hdr.Date = date
	hdr.Flags = store.SplitFlags(flags)
	hdr.HasAttachments = hasAttachments != 0
	hdr.HasBody = hasBody != 0

	return &hdr, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
