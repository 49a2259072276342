package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/xela07ax/triage-core/internal/domain"
)

// GetUserByUsername читает оператора для выдачи токена.
// nil без ошибки — пользователь не найден (401 решает сервис аутентификации).
func (r *AuditRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, email, username, password_hash, role, scopes, created_at, updated_at
		FROM users WHERE username = $1`

	u := &domain.User{}
	var scopes []byte
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &scopes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &u.Scopes); err != nil {
			return nil, err
		}
	}
	return u, nil
}
