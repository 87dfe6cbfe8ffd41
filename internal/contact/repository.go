package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound covers both missing contacts and contacts owned by another
// user; callers can't tell the difference and shouldn't.
var ErrNotFound = errors.New("contact not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const contactColumns = `id, user_id, name, surname, email, phone, to_char(birthday, 'YYYY-MM-DD'), additional_info, created_at, updated_at`

func (r *Repository) List(ctx context.Context, ownerID string, f Filter) ([]Contact, error) {
	if f.Limit <= 0 {
		f.Limit = 10
	}
	if f.Skip < 0 {
		f.Skip = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = $1
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		  AND ($3 = '' OR surname ILIKE '%' || $3 || '%')
		  AND ($4 = '' OR email ILIKE '%' || $4 || '%')
		ORDER BY created_at DESC
		OFFSET $5 LIMIT $6
	`, ownerID, f.Name, f.Surname, f.Email, f.Skip, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

func (r *Repository) GetByID(ctx context.Context, ownerID, id string) (Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE id = $1 AND user_id = $2
	`, id, ownerID)
	return scanContact(row)
}

func (r *Repository) Create(ctx context.Context, ownerID string, input Input) (Contact, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Contact{}, fmt.Errorf("generate contact id: %w", err)
	}

	now := time.Now().UTC()
	c := Contact{
		ID:             id.String(),
		UserID:         ownerID,
		Name:           input.Name,
		Surname:        input.Surname,
		Email:          input.Email,
		Phone:          input.Phone,
		Birthday:       input.Birthday,
		AdditionalInfo: input.AdditionalInfo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, user_id, name, surname, email, phone, birthday, additional_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8, $9, $10)
	`, c.ID, c.UserID, c.Name, c.Surname, c.Email, c.Phone, c.Birthday, c.AdditionalInfo, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}

	return c, nil
}

func (r *Repository) Update(ctx context.Context, ownerID, id string, input Input) (Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE contacts
		SET name = $3, surname = $4, email = $5, phone = $6, birthday = $7::date, additional_info = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2
		RETURNING `+contactColumns+`
	`, id, ownerID, input.Name, input.Surname, input.Email, input.Phone, input.Birthday, input.AdditionalInfo, time.Now().UTC())
	return scanContact(row)
}

func (r *Repository) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM contacts WHERE id = $1 AND user_id = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpcomingBirthdays returns the owner's contacts whose birthday (month/day)
// falls within the next days, handling the wrap into the following month.
func (r *Repository) UpcomingBirthdays(ctx context.Context, ownerID string, days int) ([]Contact, error) {
	if days <= 0 {
		days = 7
	}

	today := time.Now().UTC()
	upcoming := today.AddDate(0, 0, days)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = $1
		  AND (
			(EXTRACT(MONTH FROM birthday) = $2 AND EXTRACT(DAY FROM birthday) >= $3)
			OR (EXTRACT(MONTH FROM birthday) = $4 AND EXTRACT(DAY FROM birthday) <= $5)
		  )
		ORDER BY EXTRACT(MONTH FROM birthday), EXTRACT(DAY FROM birthday)
	`, ownerID, int(today.Month()), today.Day(), int(upcoming.Month()), upcoming.Day())
	if err != nil {
		return nil, fmt.Errorf("query upcoming birthdays: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

func scanContact(row *sql.Row) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Surname, &c.Email, &c.Phone,
		&c.Birthday, &c.AdditionalInfo, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("scan contact: %w", err)
	}
	return c, nil
}

func collectContacts(rows *sql.Rows) ([]Contact, error) {
	contacts := make([]Contact, 0)
	for rows.Next() {
		var c Contact
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Name, &c.Surname, &c.Email, &c.Phone,
			&c.Birthday, &c.AdditionalInfo, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}

	return contacts, nil
}
