package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MikeSquared-Agency/debchat/internal/store"
)

func (s *Store) UpsertUser(ctx context.Context, login store.Login) (store.User, bool, error) {
	var (
		u        store.User
		id       uuid.UUID
		role     string
		inserted bool
	)
	// A google id match wins over an email match.
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET
			email = $1,
			name = CASE WHEN $2 = '' THEN users.name ELSE $2 END,
			google_id = CASE WHEN users.google_id = '' THEN $3 ELSE users.google_id END,
			last_login_at = now()
		WHERE id = (
			SELECT id FROM users
			WHERE ($3 <> '' AND google_id = $3) OR email = $1
			ORDER BY (google_id = $3) DESC
			LIMIT 1)
		RETURNING id, email, name, google_id, role, created_at, last_login_at`,
		login.Email, login.Name, login.GoogleID,
	).Scan(&id, &u.Email, &u.Name, &u.GoogleID, &role, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// xmax = 0 only for freshly inserted rows.
		err = s.pool.QueryRow(ctx, `
			INSERT INTO users (id, email, name, google_id, role, created_at, last_login_at)
			VALUES ($1, $2, $3, $4, 'user', now(), now())
			ON CONFLICT (email)
			DO UPDATE SET
				last_login_at = now(),
				name = CASE WHEN EXCLUDED.name = '' THEN users.name ELSE EXCLUDED.name END
			RETURNING id, email, name, google_id, role, created_at, last_login_at, (xmax = 0)`,
			uuid.New(), login.Email, login.Name, login.GoogleID,
		).Scan(&id, &u.Email, &u.Name, &u.GoogleID, &role, &u.CreatedAt, &u.LastLoginAt, &inserted)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.User{}, false, store.ErrEmailTaken
	}
	if err != nil {
		return store.User{}, false, fmt.Errorf("upsert user: %w", err)
	}
	u.ID = id.String()
	u.Role = store.Role(role)
	return u, inserted, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, name, google_id, role, created_at, last_login_at
		FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []store.User
	for rows.Next() {
		var (
			u    store.User
			id   uuid.UUID
			role string
		)
		if err := rows.Scan(&id, &u.Email, &u.Name, &u.GoogleID, &role, &u.CreatedAt, &u.LastLoginAt); err != nil {
			return nil, err
		}
		u.ID = id.String()
		u.Role = store.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SetUserRole(ctx context.Context, email string, role store.Role) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET role = $1 WHERE email = $2`, string(role), email)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

const modelColumns = `id, name, description, kind, endpoint, provider_model, status, temperature, min_p, max_tokens, created_at, updated_at`

func (s *Store) ListModels(ctx context.Context) ([]store.Model, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+modelColumns+` FROM models ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var out []store.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CreateModel(ctx context.Context, m store.Model) (store.Model, error) {
	m = store.NormalizeModel(m, time.Now().UTC())
	row := s.pool.QueryRow(ctx, `
		INSERT INTO models (id, name, description, kind, endpoint, provider_model, status, temperature, min_p, max_tokens, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+modelColumns,
		uuid.New(), m.Name, m.Description, m.Kind, m.Endpoint, m.ProviderModel, string(m.Status),
		m.Config.Temperature, m.Config.MinP, m.Config.MaxTokens, m.CreatedAt, m.UpdatedAt,
	)
	created, err := scanModel(row)
	if err != nil {
		return store.Model{}, fmt.Errorf("insert model: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateModelConfig(ctx context.Context, id string, cfg store.ModelConfig) error {
	modelID, err := parseID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE models SET temperature = $1, min_p = $2, max_tokens = $3, updated_at = now()
		WHERE id = $4`,
		cfg.Temperature, cfg.MinP, cfg.MaxTokens, modelID,
	)
	if err != nil {
		return fmt.Errorf("update model config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetModelStatus(ctx context.Context, id string, status store.ModelStatus) error {
	modelID, err := parseID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE models SET status = $1, updated_at = now() WHERE id = $2`, string(status), modelID)
	if err != nil {
		return fmt.Errorf("set model status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountActiveModels(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM models WHERE status = 'active'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count models: %w", err)
	}
	return n, nil
}

func (s *Store) GetAdmin(ctx context.Context, username string) (store.Admin, error) {
	var a store.Admin
	err := s.pool.QueryRow(ctx, `SELECT username, email, password_hash FROM admins WHERE username = $1`, username).
		Scan(&a.Username, &a.Email, &a.PasswordHash)
	if err != nil {
		return store.Admin{}, notFound(err)
	}
	return a, nil
}

func (s *Store) PutAdmin(ctx context.Context, a store.Admin) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admins (username, email, password_hash) VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET email = $2, password_hash = $3`,
		a.Username, a.Email, a.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("put admin: %w", err)
	}
	return nil
}

func scanModel(row pgx.Row) (store.Model, error) {
	var (
		m      store.Model
		id     uuid.UUID
		status string
	)
	err := row.Scan(&id, &m.Name, &m.Description, &m.Kind, &m.Endpoint, &m.ProviderModel, &status,
		&m.Config.Temperature, &m.Config.MinP, &m.Config.MaxTokens, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return store.Model{}, err
	}
	m.ID = id.String()
	m.Status = store.ModelStatus(status)
	return m, nil
}
