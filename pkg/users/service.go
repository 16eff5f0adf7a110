package users

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/taskscope/taskscope/pkg/auth"
	"github.com/taskscope/taskscope/pkg/authz"
	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/storage"
)

// Service manages user accounts. Accounts are not project scoped; any
// authenticated identity may look users up, while role changes and
// deactivation require the admin role.
type Service struct {
	db        *sql.DB
	passwords *auth.PasswordManager
	logger    *observability.Logger
}

// NewService creates a user service
func NewService(db *sql.DB, passwords *auth.PasswordManager, logger *observability.Logger) *Service {
	return &Service{db: db, passwords: passwords, logger: logger}
}

// RegisterInput carries a new account registration
type RegisterInput struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      auth.Role `json:"role"`
}

// UpdateInput carries a partial account update. Role changes are admin
// only and rejected for everyone else.
type UpdateInput struct {
	FirstName *string    `json:"first_name,omitempty"`
	LastName  *string    `json:"last_name,omitempty"`
	Role      *auth.Role `json:"role,omitempty"`
	IsActive  *bool      `json:"is_active,omitempty"`
}

// Register creates a new account with a hashed password. Registration is
// open; the self-declared role is advisory and never consulted by the
// authorization rules.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*auth.User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Username == "" || input.Email == "" {
		return nil, fmt.Errorf("%w: username and email are required", authz.ErrValidation)
	}
	if input.Role == "" {
		input.Role = auth.RoleGuest
	}
	if !input.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", authz.ErrValidation, input.Role)
	}

	hash, err := s.passwords.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authz.ErrValidation, err)
	}

	now := time.Now()
	user := &auth.User{
		Username:  input.Username,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Role:      input.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO users (username, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		user.Username, user.Email, hash, user.FirstName, user.LastName, user.Role, user.IsActive, now, now,
	).Scan(&user.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username or email already taken", authz.ErrValidation)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

// Authenticate verifies credentials and returns the account. Failures are
// reported uniformly so callers cannot enumerate which emails exist.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*auth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var hash string
	user := &auth.User{}
	query := `
		SELECT id, username, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Username, &user.Email, &hash, &user.FirstName, &user.LastName,
		&user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: invalid credentials", authz.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate user: %w", err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: invalid credentials", authz.ErrUnauthenticated)
	}
	if !s.passwords.VerifyPassword(hash, password) {
		return nil, fmt.Errorf("%w: invalid credentials", authz.ErrUnauthenticated)
	}
	return user, nil
}

// Get returns one account by id
func (s *Service) Get(ctx context.Context, identity authz.Identity, userID int64) (*auth.User, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	return fetchUser(ctx, s.db, userID)
}

// List returns all active accounts ordered by username
func (s *Service) List(ctx context.Context, identity authz.Identity) ([]*auth.User, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}

	query := `
		SELECT id, username, email, first_name, last_name, role, is_active, created_at, updated_at
		FROM users
		WHERE is_active
		ORDER BY username
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var result []*auth.User
	for rows.Next() {
		u := &auth.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// Update applies a partial account update. Users may edit their own name
// fields; role and active-flag changes need the admin role.
func (s *Service) Update(ctx context.Context, identity authz.Identity, userID int64, input UpdateInput) (*auth.User, error) {
	if !identity.Authenticated {
		return nil, authz.ErrUnauthenticated
	}
	if identity.UserID != userID && !identity.IsAdmin() {
		return nil, fmt.Errorf("user %d: %w", userID, authz.ErrForbidden)
	}
	if (input.Role != nil || input.IsActive != nil) && !identity.IsAdmin() {
		return nil, fmt.Errorf("role changes: %w", authz.ErrForbidden)
	}
	if input.Role != nil && !input.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", authz.ErrValidation, *input.Role)
	}

	user, err := fetchUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if input.FirstName != nil {
		setClauses = append(setClauses, fmt.Sprintf("first_name = $%d", argPos))
		args = append(args, *input.FirstName)
		argPos++
		user.FirstName = *input.FirstName
	}
	if input.LastName != nil {
		setClauses = append(setClauses, fmt.Sprintf("last_name = $%d", argPos))
		args = append(args, *input.LastName)
		argPos++
		user.LastName = *input.LastName
	}
	if input.Role != nil {
		setClauses = append(setClauses, fmt.Sprintf("role = $%d", argPos))
		args = append(args, *input.Role)
		argPos++
		user.Role = *input.Role
	}
	if input.IsActive != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *input.IsActive)
		argPos++
		user.IsActive = *input.IsActive
	}

	if len(setClauses) == 0 {
		return user, nil
	}

	now := time.Now()
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, now)
	argPos++
	user.UpdatedAt = now

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// Deactivate marks an account inactive. Admin only; rows stay in place so
// comment authorship and project history keep resolving.
func (s *Service) Deactivate(ctx context.Context, identity authz.Identity, userID int64) error {
	if !identity.Authenticated {
		return authz.ErrUnauthenticated
	}
	if !identity.IsAdmin() {
		return fmt.Errorf("user %d: %w", userID, authz.ErrForbidden)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = FALSE, updated_at = $1 WHERE id = $2`, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d: %w", userID, authz.ErrNotFound)
	}
	return nil
}

func fetchUser(ctx context.Context, q authz.DBTX, userID int64) (*auth.User, error) {
	u := &auth.User{}
	query := `
		SELECT id, username, email, first_name, last_name, role, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	err := q.QueryRowContext(ctx, query, userID).Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", userID, authz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
