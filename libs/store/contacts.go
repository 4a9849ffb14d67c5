package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/db"
	"github.com/vdental/chairbook/libs/model"
)

const contactColumns = `id::text, first_name, last_name, phone_e164, created_at`

type Contacts struct {
	db db.DBTX
}

func NewContacts(conn db.DBTX) *Contacts {
	return &Contacts{db: conn}
}

// Upsert creates a contact or, when the phone is already known, updates its
// names. The phone number is the natural key.
func (r *Contacts) Upsert(ctx context.Context, c model.Contact) (model.Contact, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO contacts (id, first_name, last_name, phone_e164)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone_e164) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name
		RETURNING `+contactColumns,
		uuid.NewString(), strings.TrimSpace(c.FirstName), strings.TrimSpace(c.LastName), c.PhoneE164)
	out, err := scanContact(row)
	if err != nil {
		return model.Contact{}, apperr.Store("upsert contact", "", err)
	}
	return out, nil
}

func (r *Contacts) Get(ctx context.Context, id string) (model.Contact, error) {
	c, err := scanContact(r.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Contact{}, apperr.NotFound("contact", id)
		}
		return model.Contact{}, apperr.Store("get contact", id, err)
	}
	return c, nil
}

// Search matches q case-insensitively against names and phone. An empty q
// lists everyone. Results are ordered by last name.
func (r *Contacts) Search(ctx context.Context, q string, limit int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = 200
	}
	q = strings.TrimSpace(q)
	rows, err := r.db.Query(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE $1 = ''
		   OR first_name ILIKE $2
		   OR last_name ILIKE $2
		   OR phone_e164 ILIKE $2
		ORDER BY last_name, first_name
		LIMIT $3
	`, q, "%"+escapeLike(q)+"%", limit)
	if err != nil {
		return nil, apperr.Store("search contacts", "", err)
	}
	defer rows.Close()

	out := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, apperr.Store("search contacts", "", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("search contacts", "", err)
	}
	return out, nil
}

func scanContact(row pgx.Row) (model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.PhoneE164, &c.CreatedAt)
	return c, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
