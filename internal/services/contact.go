package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/HerbHall/phonebook/pkg/plugin"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// ContactFilter controls which contacts are returned by List.
type ContactFilter struct {
	Keyword string // Case-insensitive substring of name, phone or email.
}

// PhoneMatch selects how FindByPhoneDigits compares normalized numbers.
type PhoneMatch int

const (
	// PhoneMatchExact matches when the digit strings are equal.
	PhoneMatchExact PhoneMatch = iota
	// PhoneMatchContains matches when a stored number contains the candidate.
	PhoneMatchContains
)

// ContactRepository provides CRUD access to contacts.
type ContactRepository interface {
	// Get returns a single contact by ID.
	Get(ctx context.Context, id string) (*models.Contact, error)

	// List returns a filtered, sorted, paginated list of contacts. The total
	// is counted with the same filter as the page.
	List(ctx context.Context, filter ContactFilter, opts ListOptions) (*ListResult[models.Contact], error)

	// Create inserts a new contact. If contact.ID is empty, a UUID is generated.
	Create(ctx context.Context, contact *models.Contact) error

	// Update replaces name, phone and email of an existing contact. The
	// avatar reference is only changed through SwapAvatar.
	Update(ctx context.Context, contact *models.Contact) error

	// SwapAvatar replaces only the avatar reference and returns the one it
	// replaced, empty if there was none. A nil avatar clears it.
	SwapAvatar(ctx context.Context, id string, avatar *string) (string, error)

	// Delete removes a contact by ID.
	Delete(ctx context.Context, id string) error

	// FindByPhoneDigits returns the first contact, other than excludeID, whose
	// normalized phone matches digits.
	FindByPhoneDigits(ctx context.Context, digits string, match PhoneMatch, excludeID string) (*models.Contact, error)

	// Count returns the number of stored contacts.
	Count(ctx context.Context) (int, error)
}

// Compile-time interface guard.
var _ ContactRepository = (*SQLiteContactRepository)(nil)

// SQLiteContactRepository implements ContactRepository using SQLite.
type SQLiteContactRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteContactRepository creates a ContactRepository and runs the
// contacts migrations.
func NewSQLiteContactRepository(ctx context.Context, store plugin.Store) (*SQLiteContactRepository, error) {
	if err := store.Migrate(ctx, "contacts", contactMigrations); err != nil {
		return nil, fmt.Errorf("contacts migrations: %w", err)
	}
	return &SQLiteContactRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// contactColumns is the shared column list for contact queries.
const contactColumns = `id, name, phone, email, avatar, created_at, updated_at`

// contactSorts maps accepted sort keys to ORDER BY expressions.
var contactSorts = map[string]string{
	models.SortByName:      "name COLLATE NOCASE",
	models.SortByPhone:     "phone_digits",
	models.SortByCreatedAt: "created_at",
}

// IsContactSortField reports whether field is an accepted sort key.
func IsContactSortField(field string) bool {
	_, ok := contactSorts[field]
	return ok
}

func (r *SQLiteContactRepository) Get(ctx context.Context, id string) (*models.Contact, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact %q: %w", id, err)
	}
	return c, nil
}

func (r *SQLiteContactRepository) List(ctx context.Context, filter ContactFilter, opts ListOptions) (*ListResult[models.Contact], error) {
	opts = normalizeListOptions(opts)

	sortExpr := contactSorts[models.SortByName]
	if col, ok := contactSorts[opts.SortBy]; ok {
		sortExpr = col
	}

	// The same WHERE clause feeds both the count and the page query.
	where := "1=1"
	var args []any
	if filter.Keyword != "" {
		where += ` AND search_text LIKE ? ESCAPE '\'`
		args = append(args, likePattern(foldCase(filter.Keyword)))
	}

	var total int
	//nolint:gosec // where uses parameterized placeholders only
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM contacts WHERE "+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count contacts: %w", err)
	}

	queryArgs := make([]any, 0, len(args)+2)
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, opts.Limit, opts.Offset)

	orderDir := "ASC"
	if opts.SortOrder == "desc" {
		orderDir = "DESC"
	}

	// id breaks ties so that offset pages never overlap for a fixed data set.
	//nolint:gosec // where and sortExpr are validated above, not user input
	query := fmt.Sprintf(
		"SELECT %s FROM contacts WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		contactColumns, where, sortExpr, orderDir, orderDir,
	)

	rows, err := r.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		contacts = append(contacts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}

	return &ListResult[models.Contact]{Items: contacts, Total: total}, nil
}

func (r *SQLiteContactRepository) Create(ctx context.Context, contact *models.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	now := r.now()
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, name, phone, phone_digits, email, avatar, search_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contact.ID, contact.Name, contact.Phone, models.PhoneDigits(contact.Phone),
		contact.Email, nullString(contact.Avatar), searchText(contact.Name, contact.Phone, contact.Email),
		contact.CreatedAt, contact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

func (r *SQLiteContactRepository) Update(ctx context.Context, contact *models.Contact) error {
	contact.UpdatedAt = r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET
			name = ?, phone = ?, phone_digits = ?, email = ?, search_text = ?, updated_at = ?
		WHERE id = ?`,
		contact.Name, contact.Phone, models.PhoneDigits(contact.Phone), contact.Email,
		searchText(contact.Name, contact.Phone, contact.Email), contact.UpdatedAt,
		contact.ID,
	)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteContactRepository) SwapAvatar(ctx context.Context, id string, avatar *string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var prev sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT avatar FROM contacts WHERE id = ?`, id).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE contacts SET avatar = ?, updated_at = ? WHERE id = ?`,
		nullString(avatar), r.now(), id); err != nil {
		return "", fmt.Errorf("set avatar: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit avatar: %w", err)
	}
	return prev.String, nil
}

func (r *SQLiteContactRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteContactRepository) FindByPhoneDigits(ctx context.Context, digits string, match PhoneMatch, excludeID string) (*models.Contact, error) {
	if digits == "" {
		return nil, ErrNotFound
	}

	cond := "phone_digits = ?"
	arg := digits
	if match == PhoneMatchContains {
		cond = `phone_digits LIKE ? ESCAPE '\'`
		arg = likePattern(digits)
	}

	//nolint:gosec // cond is one of two constant expressions
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE `+cond+` AND id <> ? ORDER BY created_at LIMIT 1`,
		arg, excludeID)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find contact by phone: %w", err)
	}
	return c, nil
}

func (r *SQLiteContactRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var c models.Contact
	var avatar sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &avatar, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if avatar.Valid && avatar.String != "" {
		c.Avatar = &avatar.String
	}
	return &c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// contactMigrations defines the database schema for contacts.
var contactMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create contacts table",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE contacts (
					id           TEXT PRIMARY KEY,
					name         TEXT NOT NULL,
					phone        TEXT NOT NULL,
					phone_digits TEXT NOT NULL,
					email        TEXT NOT NULL DEFAULT '',
					avatar       TEXT,
					created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_contacts_name ON contacts(name COLLATE NOCASE)`,
				`CREATE INDEX idx_contacts_phone_digits ON contacts(phone_digits)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "add case-folded search text",
		Up:          addSearchText,
	},
}

// addSearchText adds the search_text column and fills it for existing rows.
// SQLite's LOWER and LIKE fold ASCII only, so the folding happens here.
func addSearchText(tx *sql.Tx) error {
	if _, err := tx.Exec(`ALTER TABLE contacts ADD COLUMN search_text TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}

	rows, err := tx.Query(`SELECT id, name, phone, email FROM contacts`)
	if err != nil {
		return err
	}
	type row struct{ id, text string }
	var pending []row
	for rows.Next() {
		var id, name, phone, email string
		if err := rows.Scan(&id, &name, &phone, &email); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, row{id, searchText(name, phone, email)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range pending {
		if _, err := tx.Exec(`UPDATE contacts SET search_text = ? WHERE id = ?`, r.text, r.id); err != nil {
			return err
		}
	}
	return nil
}

// searchText is the case-folded text a keyword is matched against. The NUL
// separator keeps a keyword from matching across two fields.
func searchText(name, phone, email string) string {
	return foldCase(name + "\x00" + phone + "\x00" + email)
}

// foldCase applies full Unicode case folding, so "ÉLODIE" and "élodie" compare
// equal.
func foldCase(s string) string {
	return cases.Fold().String(s)
}
