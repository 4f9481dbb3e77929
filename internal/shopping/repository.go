package shopping

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mealboard/internal/apperr"
	"mealboard/internal/database"
)

// Store persists the shopping list, its archive and its configuration.
type Store interface {
	Load(ctx context.Context) (*List, error)
	// Update loads the list, applies fn and persists the result in one transaction.
	Update(ctx context.Context, fn func(tx *Tx) error) error
	// ListArchived returns archived lists, newest first.
	ListArchived(ctx context.Context) ([]ArchivedList, error)
	DeleteArchived(ctx context.Context, id string) error
	SortingPrompt(ctx context.Context) (*string, error)
	SetSortingPrompt(ctx context.Context, prompt *string) error
}

// Tx is the unit of work handed to Store.Update.
type Tx struct {
	List     *List
	archives []ArchivedList
}

// Archive schedules a snapshot to be stored with the transaction.
func (tx *Tx) Archive(a ArchivedList) {
	tx.archives = append(tx.archives, a)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository handles persistence of the shopping list.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new shopping list repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Load implements Store.
func (r *Repository) Load(ctx context.Context) (*List, error) {
	return loadList(ctx, r.db.SQL)
}

// Update implements Store.
func (r *Repository) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return r.db.WithTx(ctx, func(sqlTx *sql.Tx) error {
		list, err := loadList(ctx, sqlTx)
		if err != nil {
			return err
		}

		tx := &Tx{List: list}
		if err := fn(tx); err != nil {
			return err
		}

		if err := saveList(ctx, sqlTx, tx.List); err != nil {
			return err
		}
		for _, a := range tx.archives {
			data, err := json.Marshal(a.Items)
			if err != nil {
				return fmt.Errorf("failed to encode archived shopping list: %w", err)
			}
			if _, err := sqlTx.ExecContext(ctx,
				`INSERT INTO archived_shopping_lists (id, data, created_at) VALUES (?, ?, ?)`,
				a.ID, string(data), database.FormatTime(a.CreatedAt)); err != nil {
				return fmt.Errorf("failed to archive shopping list: %w", err)
			}
		}
		return nil
	})
}

// ListArchived implements Store.
func (r *Repository) ListArchived(ctx context.Context) ([]ArchivedList, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		`SELECT id, data, created_at FROM archived_shopping_lists ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived shopping lists: %w", err)
	}
	defer rows.Close()

	archived := []ArchivedList{}
	for rows.Next() {
		var a ArchivedList
		var data, created string
		if err := rows.Scan(&a.ID, &data, &created); err != nil {
			return nil, fmt.Errorf("failed to scan archived shopping list: %w", err)
		}
		if a.CreatedAt, err = database.ParseTime(created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &a.Items); err != nil || a.Items == nil {
			a.Items = []Item{}
		}
		archived = append(archived, a)
	}
	return archived, rows.Err()
}

// DeleteArchived implements Store.
func (r *Repository) DeleteArchived(ctx context.Context, id string) error {
	res, err := r.db.SQL.ExecContext(ctx, `DELETE FROM archived_shopping_lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete archived shopping list %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete archived shopping list %s: %w", id, err)
	}
	if n == 0 {
		return apperr.NotFound("Archived shopping list not found")
	}
	return nil
}

// SortingPrompt implements Store.
func (r *Repository) SortingPrompt(ctx context.Context) (*string, error) {
	var prompt sql.NullString
	err := r.db.SQL.QueryRowContext(ctx, `SELECT sorting_prompt FROM shopping_lists WHERE id = ?`, SingletonID).Scan(&prompt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Shopping list not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sorting prompt: %w", err)
	}
	if !prompt.Valid {
		return nil, nil
	}
	return &prompt.String, nil
}

// SetSortingPrompt implements Store.
func (r *Repository) SetSortingPrompt(ctx context.Context, prompt *string) error {
	var value sql.NullString
	if prompt != nil {
		value = sql.NullString{String: *prompt, Valid: true}
	}
	if _, err := r.db.SQL.ExecContext(ctx,
		`UPDATE shopping_lists SET sorting_prompt = ? WHERE id = ?`, value, SingletonID); err != nil {
		return fmt.Errorf("failed to update sorting prompt: %w", err)
	}
	return nil
}

func loadList(ctx context.Context, q querier) (*List, error) {
	var created string
	err := q.QueryRowContext(ctx, `SELECT created_at FROM shopping_lists WHERE id = ?`, SingletonID).Scan(&created)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Shopping list not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shopping list: %w", err)
	}

	list := &List{Items: []Item{}}
	if list.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, name, checked, sort_order, created_at
		 FROM shopping_list_items
		 WHERE shopping_list_id = ?
		 ORDER BY sort_order, created_at, id`, SingletonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load shopping list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		var itemCreated string
		if err := rows.Scan(&it.ID, &it.Name, &it.Checked, &it.SortOrder, &itemCreated); err != nil {
			return nil, fmt.Errorf("failed to scan shopping list item: %w", err)
		}
		if it.CreatedAt, err = database.ParseTime(itemCreated); err != nil {
			return nil, err
		}
		list.Items = append(list.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load shopping list items: %w", err)
	}
	return list, nil
}

// saveList replaces the stored items with the list's.
func saveList(ctx context.Context, q querier, list *List) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE shopping_lists SET created_at = ? WHERE id = ?`,
		database.FormatTime(list.CreatedAt), SingletonID); err != nil {
		return fmt.Errorf("failed to update shopping list: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM shopping_list_items WHERE shopping_list_id = ?`, SingletonID); err != nil {
		return fmt.Errorf("failed to clear shopping list items: %w", err)
	}
	for _, it := range list.Items {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO shopping_list_items (id, shopping_list_id, name, checked, sort_order, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			it.ID, SingletonID, it.Name, it.Checked, it.SortOrder, database.FormatTime(it.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert shopping list item %s: %w", it.ID, err)
		}
	}
	return nil
}
