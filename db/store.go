package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docutag/lincat/models"
	"github.com/docutag/lincat/slug"
)

// ListCategoryNames returns the names of every category owned by owner
func (db *DB) ListCategoryNames(ctx context.Context, owner string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, db.q(`SELECT name FROM categories WHERE user_id = ? ORDER BY name`), owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// FindCategoryID looks a category up by exact name
func (db *DB) FindCategoryID(ctx context.Context, name, owner string) (string, bool, error) {
	var id string
	err := db.conn.QueryRowContext(ctx,
		db.q(`SELECT id FROM categories WHERE name = ? AND user_id = ?`), name, owner,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query category: %w", err)
	}
	return id, true, nil
}

// InsertCategory inserts the category unless (name, owner) already exists, and
// returns the id of whichever row holds the pair. A conflicting row deleted
// before the re-read gets one more insert attempt.
func (db *DB) InsertCategory(ctx context.Context, id, name, owner string) (string, error) {
	for attempt := 0; attempt < insertCategoryAttempts; attempt++ {
		_, err := db.conn.ExecContext(ctx, db.q(`
			INSERT INTO categories (id, name, user_id, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (name, user_id) DO NOTHING
		`), id, name, owner, time.Now().UTC())
		if err != nil {
			return "", fmt.Errorf("failed to insert category: %w", err)
		}

		storedID, found, err := db.FindCategoryID(ctx, name, owner)
		if err != nil {
			return "", err
		}
		if found {
			return storedID, nil
		}
	}
	return "", fmt.Errorf("category %q vanished after insert", name)
}

const insertCategoryAttempts = 2

// InsertLink stores a link
func (db *DB) InsertLink(ctx context.Context, link *models.Link) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO links (id, original_input, title, description, url, category_id, ai_description, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		link.ID, link.OriginalInput, link.Title, link.Description, nullString(link.URL),
		link.CategoryID, link.AIDescription, link.Owner, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

const linkColumns = `l.id, l.original_input, l.title, l.description, l.url, l.category_id, l.ai_description, l.user_id, l.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner, extra ...any) (models.Link, error) {
	var l models.Link
	var url sql.NullString
	dest := append([]any{
		&l.ID, &l.OriginalInput, &l.Title, &l.Description, &url,
		&l.CategoryID, &l.AIDescription, &l.Owner, &l.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return l, err
	}
	l.URL = url.String
	return l, nil
}

// ListCategories returns the owner's categories, newest first, each with its links, newest first
func (db *DB) ListCategories(ctx context.Context, owner string) ([]models.CategoryWithLinks, error) {
	rows, err := db.conn.QueryContext(ctx, db.q(`
		SELECT c.id, c.name, c.created_at,
			l.id, l.original_input, l.title, l.description, l.url, l.category_id, l.ai_description, l.user_id, l.created_at
		FROM categories c
		LEFT JOIN links l ON l.category_id = c.id
		WHERE c.user_id = ?
		ORDER BY c.created_at DESC, c.id, l.created_at DESC
	`), owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	result := []models.CategoryWithLinks{}
	slugs := map[string]bool{}
	for rows.Next() {
		var (
			catID, catName string
			catCreated     time.Time
			linkID         sql.NullString
			input, title   sql.NullString
			desc, url      sql.NullString
			categoryID     sql.NullString
			aiDesc, owner  sql.NullString
			linkCreated    sql.NullTime
		)
		if err := rows.Scan(&catID, &catName, &catCreated,
			&linkID, &input, &title, &desc, &url, &categoryID, &aiDesc, &owner, &linkCreated); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}

		if n := len(result); n == 0 || result[n-1].ID != catID {
			result = append(result, models.CategoryWithLinks{
				ID:        catID,
				Name:      catName,
				Slug:      slug.MakeUnique(slug.GenerateWithFallback(catName, catID), slugs),
				CreatedAt: catCreated,
				Links:     []models.Link{},
			})
		}
		if !linkID.Valid {
			continue
		}
		cur := &result[len(result)-1]
		cur.Links = append(cur.Links, models.Link{
			ID:            linkID.String,
			OriginalInput: input.String,
			Title:         title.String,
			Description:   desc.String,
			URL:           url.String,
			CategoryID:    categoryID.String,
			AIDescription: aiDesc.String,
			Owner:         owner.String,
			CreatedAt:     linkCreated.Time,
		})
		cur.LinkCount = len(cur.Links)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return result, nil
}

// SearchLinks finds the owner's links whose text fields contain q, case-insensitively.
// An empty query returns every link.
func (db *DB) SearchLinks(ctx context.Context, owner, q string) ([]models.SearchResult, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(q))) + "%"
	rows, err := db.conn.QueryContext(ctx, db.q(`
		SELECT `+linkColumns+`, c.name
		FROM links l
		JOIN categories c ON c.id = l.category_id
		WHERE l.user_id = ?
			AND (LOWER(l.title) LIKE ? ESCAPE '\'
				OR LOWER(l.description) LIKE ? ESCAPE '\'
				OR LOWER(l.ai_description) LIKE ? ESCAPE '\'
				OR LOWER(l.original_input) LIKE ? ESCAPE '\')
		ORDER BY l.created_at DESC
	`), owner, pattern, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search links: %w", err)
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var name string
		link, err := scanLink(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		results = append(results, models.SearchResult{Link: link, CategoryName: name})
	}
	return results, rows.Err()
}

// GetLink returns one link or ErrNotFound
func (db *DB) GetLink(ctx context.Context, owner, id string) (*models.Link, error) {
	row := db.conn.QueryRowContext(ctx, db.q(`SELECT `+linkColumns+` FROM links l WHERE l.id = ? AND l.user_id = ?`), id, owner)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &link, nil
}

// DeleteCategory removes a category and all of its links in one transaction
func (db *DB) DeleteCategory(ctx context.Context, owner, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.q(`DELETE FROM links WHERE category_id = ? AND user_id = ?`), id, owner); err != nil {
		return fmt.Errorf("failed to delete links: %w", err)
	}

	res, err := tx.ExecContext(ctx, db.q(`DELETE FROM categories WHERE id = ? AND user_id = ?`), id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check deletion: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// DeleteLink removes one link
func (db *DB) DeleteLink(ctx context.Context, owner, id string) error {
	res, err := db.conn.ExecContext(ctx, db.q(`DELETE FROM links WHERE id = ? AND user_id = ?`), id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deletion: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of links, for one owner or for everybody when owner is empty
func (db *DB) Count(ctx context.Context, owner string) (int, error) {
	var count int
	var err error
	if owner == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&count)
	} else {
		err = db.conn.QueryRowContext(ctx, db.q(`SELECT COUNT(*) FROM links WHERE user_id = ?`), owner).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// escapeLike escapes LIKE wildcards with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
