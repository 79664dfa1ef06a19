package store

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PrincipalRecord is the SQL row for a principal
type PrincipalRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	DisplayName  string    `gorm:"size:128;not null"`
	Email        string    `gorm:"size:320;not null;uniqueIndex:idx_principals_email"`
	PasswordHash string    `gorm:"size:128;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName specifies the table name for GORM
func (PrincipalRecord) TableName() string {
	return "principals"
}

// RevokedToken is the SQL row for a revocation registry entry.
// Rows are hard deleted by the sweeper once ExpiresAt has passed.
type RevokedToken struct {
	TokenID   string    `gorm:"primaryKey;size:64"`
	ExpiresAt time.Time `gorm:"not null;index:idx_revoked_tokens_expires"`
	RevokedAt time.Time `gorm:"not null"`
	Reason    string    `gorm:"size:32"`
}

// TableName specifies the table name for GORM
func (RevokedToken) TableName() string {
	return "revoked_tokens"
}

// Migrate creates or updates the tables used by the gorm stores
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&PrincipalRecord{}, &RevokedToken{})
}

// GormStore implements the RevocationStore interface on a SQL database.
// Times are stored in UTC so range comparisons are consistent across drivers.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a SQL-backed revocation registry
func NewGormStore(db *gorm.DB) ports.RevocationStore {
	return &GormStore{db: db}
}

// Revoke inserts the entry, ignoring a conflicting token ID
func (s *GormStore) Revoke(ctx context.Context, entry core.RevocationEntry) error {
	record := RevokedToken{
		TokenID:   entry.TokenID,
		ExpiresAt: entry.ExpiresAt.UTC(),
		RevokedAt: entry.RevokedAt.UTC(),
		Reason:    entry.Reason,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return unavailable("failed to revoke token", err)
	}
	return nil
}

// IsRevoked checks if the token ID has a registry row
func (s *GormStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&RevokedToken{}).
		Where("token_id = ?", tokenID).
		Count(&count).Error
	if err != nil {
		return false, unavailable("failed to check token revocation", err)
	}
	return count > 0, nil
}

// Sweep deletes rows whose natural expiry is before now
func (s *GormStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", now.UTC()).
		Delete(&RevokedToken{})
	if res.Error != nil {
		return 0, unavailable("failed to sweep revocations", res.Error)
	}
	return int(res.RowsAffected), nil
}

// GormPrincipalStore implements the PrincipalStore interface on a SQL database
type GormPrincipalStore struct {
	db *gorm.DB
}

// NewGormPrincipalStore creates a SQL-backed principal store
func NewGormPrincipalStore(db *gorm.DB) ports.PrincipalStore {
	return &GormPrincipalStore{db: db}
}

func (s *GormPrincipalStore) Create(ctx context.Context, p *core.Principal) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&PrincipalRecord{}).Where("email = ?", p.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return core.ErrAlreadyRegistered
		}
		return tx.Create(toRecord(p)).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrAlreadyRegistered), errors.Is(err, gorm.ErrDuplicatedKey):
		return core.ErrAlreadyRegistered
	default:
		return unavailable("failed to create principal", err)
	}
}

func (s *GormPrincipalStore) GetByEmail(ctx context.Context, email string) (*core.Principal, error) {
	return s.fetch(ctx, "email = ?", email)
}

func (s *GormPrincipalStore) GetByID(ctx context.Context, id string) (*core.Principal, error) {
	return s.fetch(ctx, "id = ?", id)
}

func (s *GormPrincipalStore) Update(ctx context.Context, p *core.Principal) error {
	res := s.db.WithContext(ctx).
		Model(&PrincipalRecord{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"display_name":  p.DisplayName,
			"password_hash": p.PasswordHash,
			"updated_at":    p.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return unavailable("failed to update principal", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.ErrPrincipalNotFound
	}
	return nil
}

func (s *GormPrincipalStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&PrincipalRecord{})
	if res.Error != nil {
		return unavailable("failed to delete principal", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.ErrPrincipalNotFound
	}
	return nil
}

func (s *GormPrincipalStore) fetch(ctx context.Context, query string, arg string) (*core.Principal, error) {
	var record PrincipalRecord
	err := s.db.WithContext(ctx).Where(query, arg).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, unavailable("failed to load principal", err)
	}
	return &core.Principal{
		ID:           record.ID,
		DisplayName:  record.DisplayName,
		Email:        record.Email,
		PasswordHash: record.PasswordHash,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}, nil
}

func toRecord(p *core.Principal) *PrincipalRecord {
	return &PrincipalRecord{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
	}
}
