// Package identity looks up display names and contact details for athletes
// and operators. Lookups are best-effort: a failure yields what was found.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

const queryTimeout = 3 * time.Second

type Identity struct {
	ID        string `db:"id" json:"-"`
	FirstName string `db:"first_name" json:"first_name,omitempty"`
	LastName  string `db:"last_name" json:"last_name,omitempty"`
	Email     string `db:"email" json:"email,omitempty"`
	Phone     string `db:"phone" json:"phone,omitempty"`
}

// DisplayName joins first and last name, falling back to the email.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(i.FirstName + " " + i.LastName)
	if name != "" {
		return name
	}
	return i.Email
}

func (i Identity) Empty() bool {
	return i.FirstName == "" && i.LastName == "" && i.Email == "" && i.Phone == ""
}

// merge fills fields missing on i from other.
func (i Identity) merge(other Identity) Identity {
	if i.FirstName == "" {
		i.FirstName = other.FirstName
	}
	if i.LastName == "" {
		i.LastName = other.LastName
	}
	if i.Email == "" {
		i.Email = other.Email
	}
	if i.Phone == "" {
		i.Phone = other.Phone
	}
	return i
}

type Resolver struct {
	db *sqlx.DB
}

func NewResolver(db *sqlx.DB) *Resolver {
	return &Resolver{db: db}
}

// Lookup reads the profiles table and fills gaps from the auth provider's
// users table.
func (r *Resolver) Lookup(ctx context.Context, id string) Identity {
	out := Identity{ID: id}
	if id == "" {
		return out
	}

	if p, err := r.profile(ctx, id); err != nil {
		log.Debug().Err(err).Str("id", id).Msg("profile lookup failed")
	} else if p != nil {
		out = out.merge(*p)
	}

	if out.Email != "" && out.FirstName != "" {
		return out
	}

	if a, err := r.authUser(ctx, id); err != nil {
		log.Debug().Err(err).Str("id", id).Msg("auth user lookup failed")
	} else if a != nil {
		out = out.merge(*a)
	}
	return out
}

func (r *Resolver) profile(ctx context.Context, id string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p Identity
	err := r.db.GetContext(ctx, &p, `
		SELECT id::text AS id,
		       COALESCE(first_name, '') AS first_name,
		       COALESCE(last_name, '') AS last_name,
		       COALESCE(email, '') AS email,
		       COALESCE(phone, '') AS phone
		FROM profiles
		WHERE id::text = $1
		LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Resolver) authUser(ctx context.Context, id string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Identity
	err := r.db.GetContext(ctx, &a, `
		SELECT id::text AS id,
		       COALESCE(raw_user_meta_data->>'first_name', '') AS first_name,
		       COALESCE(raw_user_meta_data->>'last_name', '') AS last_name,
		       COALESCE(email, '') AS email,
		       COALESCE(phone, '') AS phone
		FROM auth.users
		WHERE id::text = $1
		LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
