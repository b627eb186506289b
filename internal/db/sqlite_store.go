package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/soaringjerry/imagechat/internal/services"
)

// SQLiteStore keeps identities, transcripts and the mock image pool in one SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ services.IdentityStore   = (*SQLiteStore)(nil)
	_ services.TranscriptStore = (*SQLiteStore)(nil)
	_ services.MockPoolStore   = (*SQLiteStore)(nil)
)

// Open opens (creating when needed) the database file at path.
// Foreign keys and the busy timeout are set in the DSN so every pooled connection gets them.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite dir")
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	return db, nil
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.Wrapf(err, "apply sqlite pragma %q", stmt)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) FindIdentity(ctx context.Context, group, member string) (*services.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, student_id, group_number, member, consent
		FROM identities WHERE group_number = ? AND member = ?`, group, member)
	var id services.Identity
	err := row.Scan(&id.ID, &id.Name, &id.StudentID, &id.GroupNumber, &id.Member, &id.Consent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: find identity")
	}
	return &id, nil
}

// CreateIdentity loses quietly to a concurrent insert of the same (group, member);
// the row that won is returned.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, in *services.Identity) (*services.Identity, error) {
	if in == nil {
		return nil, errors.New("sqlite store: nil identity")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities(name, student_id, group_number, member, consent)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(group_number, member) DO NOTHING`,
		in.Name, in.StudentID, in.GroupNumber, in.Member, in.Consent)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: create identity")
	}
	out, err := s.FindIdentity(ctx, in.GroupNumber, in.Member)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.Errorf("sqlite store: identity %q/%q missing after insert", in.GroupNumber, in.Member)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateConsent(ctx context.Context, identityID int64, consent string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE identities SET consent = ? WHERE id = ?`, consent, identityID)
	if err != nil {
		return errors.Wrap(err, "sqlite store: update consent")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("sqlite store: identity %d not found", identityID)
	}
	return nil
}

func (s *SQLiteStore) AppendText(ctx context.Context, identityID int64, role services.Role, content string) (int64, error) {
	return s.appendTurn(ctx, identityID, role, sql.NullString{String: content, Valid: true}, nil)
}

func (s *SQLiteStore) AppendImage(ctx context.Context, identityID int64, role services.Role, image []byte) (int64, error) {
	if image == nil {
		return 0, errors.New("sqlite store: nil image")
	}
	return s.appendTurn(ctx, identityID, role, sql.NullString{}, image)
}

func (s *SQLiteStore) appendTurn(ctx context.Context, identityID int64, role services.Role, content sql.NullString, image []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO turns(identity_id, role, content, image, timestamp)
		VALUES(?, ?, ?, ?, ?)`, identityID, string(role), content, image, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "sqlite store: append turn")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "sqlite store: append turn id")
	}
	return id, nil
}

// History returns the identity's turns in insertion order.
func (s *SQLiteStore) History(ctx context.Context, identityID int64) ([]services.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_id, role, content, image, timestamp
		FROM turns WHERE identity_id = ? ORDER BY id ASC`, identityID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: history")
	}
	defer rows.Close()
	var out []services.Turn
	for rows.Next() {
		var (
			t       services.Turn
			role    string
			content sql.NullString
			image   []byte
		)
		if err := rows.Scan(&t.ID, &t.IdentityID, &role, &content, &image, &t.Timestamp); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan turn")
		}
		t.Role = services.Role(role)
		if content.Valid {
			c := content.String
			t.Content = &c
		} else {
			if image == nil {
				image = []byte{}
			}
			t.Image = image
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: history rows")
	}
	return out, nil
}

func (s *SQLiteStore) HasTurns(ctx context.Context, identityID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM turns WHERE identity_id = ?)`, identityID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "sqlite store: has turns")
	}
	return exists, nil
}

func (s *SQLiteStore) GetMockImage(ctx context.Context, ordinal int) (*services.MockImage, error) {
	var image []byte
	err := s.db.QueryRowContext(ctx, `SELECT image FROM mock_pool WHERE id = ?`, ordinal).Scan(&image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: get mock image")
	}
	return &services.MockImage{Ordinal: ordinal, Image: image}, nil
}

func (s *SQLiteStore) CountMockImages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM mock_pool`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "sqlite store: count mock images")
	}
	return n, nil
}

// ReplaceMockImages stores images as ordinals 1..len(images) in one transaction.
func (s *SQLiteStore) ReplaceMockImages(ctx context.Context, images [][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin mock seed")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM mock_pool`); err != nil {
		return errors.Wrap(err, "sqlite store: clear mock pool")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO mock_pool(id, image) VALUES(?, ?)`)
	if err != nil {
		return errors.Wrap(err, "sqlite store: prepare mock insert")
	}
	defer stmt.Close()
	for i, img := range images {
		if img == nil {
			img = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, i+1, img); err != nil {
			return errors.Wrapf(err, "sqlite store: insert mock image %d", i+1)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite store: commit mock seed")
	}
	committed = true
	return nil
}
