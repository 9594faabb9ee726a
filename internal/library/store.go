package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bindery/internal/services"
)

// Audiobook is one library entry. MediaPath and MediaSize track the current
// on-disk media file; conversions rewrite them at commit.
type Audiobook struct {
	ID        string
	Title     string
	Author    string
	MediaPath string
	MediaSize int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

const audiobookColumns = "id, title, author, media_path, media_size, created_at, updated_at"

// Store manages library persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the library database and verifies the
// schema. The parent directory is created when missing.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Save inserts or replaces an audiobook record.
func (s *Store) Save(ctx context.Context, book *Audiobook) error {
	if book == nil {
		return errors.New("audiobook is nil")
	}
	if book.ID == "" {
		return services.Wrap(services.ErrValidation, "library", "save", "audiobook id required", nil)
	}
	now := time.Now().UTC()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO audiobooks (id, title, author, media_path, media_size, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             title = excluded.title,
             author = excluded.author,
             media_path = excluded.media_path,
             media_size = excluded.media_size,
             updated_at = excluded.updated_at`,
		book.ID,
		book.Title,
		book.Author,
		book.MediaPath,
		book.MediaSize,
		book.CreatedAt.Format(time.RFC3339Nano),
		book.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save audiobook: %w", err)
	}
	return nil
}

// GetByID fetches an audiobook by identifier. A missing row returns nil
// without error.
func (s *Store) GetByID(ctx context.Context, id string) (*Audiobook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+audiobookColumns+` FROM audiobooks WHERE id = ?`, id)
	book, err := scanAudiobook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audiobook: %w", err)
	}
	return book, nil
}

// FindByMediaPath returns the first audiobook whose media file is path.
func (s *Store) FindByMediaPath(ctx context.Context, path string) (*Audiobook, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+audiobookColumns+` FROM audiobooks WHERE media_path = ? ORDER BY id LIMIT 1`,
		path,
	)
	book, err := scanAudiobook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by media path: %w", err)
	}
	return book, nil
}

// List returns every audiobook ordered by title.
func (s *Store) List(ctx context.Context) ([]*Audiobook, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+audiobookColumns+` FROM audiobooks ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list audiobooks: %w", err)
	}
	defer rows.Close()

	var books []*Audiobook
	for rows.Next() {
		book, err := scanAudiobook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audiobook: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audiobooks: %w", err)
	}
	return books, nil
}

// UpdateMediaFile records the converted media file for an audiobook. Unknown
// ids get a minimal row so a conversion commit never loses the result.
func (s *Store) UpdateMediaFile(ctx context.Context, audiobookID, path string, size int64) error {
	if audiobookID == "" {
		return services.Wrap(services.ErrValidation, "library", "update media file", "audiobook id required", nil)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE audiobooks SET media_path = ?, media_size = ?, updated_at = ? WHERE id = ?`,
		path, size, now, audiobookID,
	)
	if err != nil {
		return fmt.Errorf("update media file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	title := filepath.Base(path)
	title = title[:len(title)-len(filepath.Ext(title))]
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO audiobooks (id, title, author, media_path, media_size, created_at, updated_at)
         VALUES (?, ?, '', ?, ?, ?, ?)`,
		audiobookID, title, path, size, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert media file record: %w", err)
	}
	return nil
}

// Delete removes an audiobook record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audiobooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete audiobook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "library", "delete",
			fmt.Sprintf("no audiobook %s", id), nil)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudiobook(scanner rowScanner) (*Audiobook, error) {
	var (
		book      Audiobook
		author    sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&book.ID, &book.Title, &author, &book.MediaPath, &book.MediaSize, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	book.Author = author.String

	var err error
	if book.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if book.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &book, nil
}
