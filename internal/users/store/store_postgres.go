package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"grc/internal/users"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
)

// PostgresStore reads users from the primary database and decrypts PII
// columns. Rows without ciphertext (or when no key is configured) fall back
// to the legacy *_plain columns.
type PostgresStore struct {
	db     *sqlx.DB
	cipher *users.FieldCipher
}

func NewPostgres(db *sqlx.DB, cipher *users.FieldCipher) *PostgresStore {
	return &PostgresStore{db: db, cipher: cipher}
}

type userRow struct {
	ID             id.UserID      `db:"user_id"`
	TenantID       id.TenantID    `db:"tenant_id"`
	Username       string         `db:"username"`
	EmailEnc       []byte         `db:"email_enc"`
	FirstNameEnc   []byte         `db:"first_name_enc"`
	LastNameEnc    []byte         `db:"last_name_enc"`
	EmailPlain     string         `db:"email_plain"`
	FirstNamePlain string         `db:"first_name_plain"`
	LastNamePlain  string         `db:"last_name_plain"`
	Roles          pq.StringArray `db:"roles"`
	IsActive       bool           `db:"is_active"`
}

const userColumns = `user_id, tenant_id, username, email_enc, first_name_enc, last_name_enc,
	email_plain, first_name_plain, last_name_plain, roles, is_active`

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*users.User, error) {
	var row userRow
	err := txcontext.Conn(ctx, s.db, txcontext.PoolPrimary).GetContext(ctx, &row,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return s.toUser(row)
}

func (s *PostgresStore) FindByIDs(ctx context.Context, tenantID id.TenantID, userIDs []id.UserID) (map[id.UserID]*users.User, error) {
	out := make(map[id.UserID]*users.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	ids := make([]string, len(userIDs))
	for i, uid := range userIDs {
		ids[i] = uid.String()
	}
	var rows []userRow
	err := txcontext.Conn(ctx, s.db, txcontext.PoolPrimary).SelectContext(ctx, &rows,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND user_id::text = ANY($2)`, tenantID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	for _, row := range rows {
		u, err := s.toUser(row)
		if err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, nil
}

func (s *PostgresStore) toUser(row userRow) (*users.User, error) {
	email, err := s.field(row.EmailEnc, row.EmailPlain)
	if err != nil {
		return nil, fmt.Errorf("user %s email: %w", row.ID, err)
	}
	first, err := s.field(row.FirstNameEnc, row.FirstNamePlain)
	if err != nil {
		return nil, fmt.Errorf("user %s first name: %w", row.ID, err)
	}
	last, err := s.field(row.LastNameEnc, row.LastNamePlain)
	if err != nil {
		return nil, fmt.Errorf("user %s last name: %w", row.ID, err)
	}
	return &users.User{
		ID:        row.ID,
		TenantID:  row.TenantID,
		Username:  row.Username,
		Email:     email,
		FirstName: first,
		LastName:  last,
		Roles:     []string(row.Roles),
		IsActive:  row.IsActive,
	}, nil
}

func (s *PostgresStore) field(enc []byte, plain string) (string, error) {
	if len(enc) == 0 || s.cipher == nil {
		return plain, nil
	}
	return s.cipher.Decrypt(enc)
}
