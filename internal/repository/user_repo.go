package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"authservice/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// UserRepository stores accounts in the users table. Every method touches a
// single row, so per-row atomicity of the database is all it relies on.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

type userModel struct {
	ID               string    `gorm:"column:id;primaryKey"`
	Email            string    `gorm:"column:email"`
	Name             string    `gorm:"column:name"`
	Phone            *string   `gorm:"column:phone"`
	PasswordHash     string    `gorm:"column:password_hash"`
	RefreshTokenHash *string   `gorm:"column:refresh_token_hash"`
	Role             string    `gorm:"column:role"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (userModel) TableName() string { return "users" }

// profileColumns never include password_hash or refresh_token_hash.
var profileColumns = []string{"id", "email", "name", "phone", "role", "created_at", "updated_at"}

func toDomainUser(m userModel) *domain.User {
	return &domain.User{
		ID:               m.ID,
		Email:            m.Email,
		Name:             m.Name,
		Phone:            m.Phone,
		PasswordHash:     m.PasswordHash,
		RefreshTokenHash: m.RefreshTokenHash,
		Role:             domain.UserRole(m.Role),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toUserModel(u *domain.User) userModel {
	role := u.Role
	if role == "" {
		role = domain.RoleUser
	}

	return userModel{
		ID:               u.ID,
		Email:            strings.TrimSpace(u.Email),
		Name:             u.Name,
		Phone:            u.Phone,
		PasswordHash:     u.PasswordHash,
		RefreshTokenHash: u.RefreshTokenHash,
		Role:             string(role),
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	m := toUserModel(u)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	*u = *toDomainUser(m)
	return nil
}

// FindByEmail matches the address exactly as stored.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var m userModel
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.TrimSpace(email)).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return toDomainUser(m), nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.Profile, error) {
	var m userModel
	err := r.db.WithContext(ctx).
		Select(profileColumns).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return toDomainUser(m).Profile(), nil
}

func (r *UserRepository) FindByIDWithCredentials(ctx context.Context, id string) (*domain.User, error) {
	var m userModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return toDomainUser(m), nil
}

// SetRefreshHash overwrites the stored refresh digest; nil clears the session.
func (r *UserRepository) SetRefreshHash(ctx context.Context, id string, hash *string) error {
	return r.updateOne(ctx, id, map[string]any{
		"refresh_token_hash": nullable(hash),
	})
}

// SwapRefreshHash replaces oldHash with newHash only if oldHash is still the
// stored value. It returns false when another request rotated or cleared it first.
func (r *UserRepository) SwapRefreshHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&userModel{}).
		Where("id = ? AND refresh_token_hash = ?", id, oldHash).
		Updates(map[string]any{
			"refresh_token_hash": newHash,
			"updated_at":         time.Now().UTC(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.Profile, error) {
	updates := map[string]any{}
	if upd.Name != nil {
		updates["name"] = *upd.Name
	}
	if upd.Phone != nil {
		updates["phone"] = nullable(upd.Phone)
	}

	if len(updates) > 0 {
		if err := r.updateOne(ctx, id, updates); err != nil {
			return nil, err
		}
	}
	return r.FindByID(ctx, id)
}

// SetPasswordHash stores a new password hash and clears the refresh digest in
// the same statement, so a password change always ends the current session.
func (r *UserRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	return r.updateOne(ctx, id, map[string]any{
		"password_hash":      hash,
		"refresh_token_hash": gorm.Expr("NULL"),
	})
}

func (r *UserRepository) SetRole(ctx context.Context, id string, role domain.UserRole) error {
	return r.updateOne(ctx, id, map[string]any{"role": string(role)})
}

func (r *UserRepository) updateOne(ctx context.Context, id string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()

	tx := r.db.WithContext(ctx).
		Model(&userModel{}).
		Where("id = ?", id).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v *string) any {
	if v == nil {
		return gorm.Expr("NULL")
	}
	return *v
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// modernc sqlite errors are not translated by the gorm dialector
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
