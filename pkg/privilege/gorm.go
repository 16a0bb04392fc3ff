package privilege

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"k8s.io/utils/clock"
)

type identityModel struct {
	Identity  string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:64"`
	CreatedAt time.Time
}

func (identityModel) TableName() string { return "identities" }

type capabilityModel struct {
	ID       uint   `gorm:"primaryKey"`
	Identity string `gorm:"size:36;uniqueIndex:idx_capability"`
	Name     string `gorm:"size:128;uniqueIndex:idx_capability"`
}

func (capabilityModel) TableName() string { return "capabilities" }

type grantModel struct {
	ID         uint      `gorm:"primaryKey"`
	Identity   string    `gorm:"size:36;uniqueIndex:idx_grant"`
	Permission string    `gorm:"size:128;uniqueIndex:idx_grant"`
	ExpiresAt  time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (grantModel) TableName() string { return "grants" }

// Grant is a temporary permission currently held by an identity.
type Grant struct {
	Permission string
	ExpiresAt  time.Time
}

// GormBackend stores identities, permanent capabilities and expiring grants
// in SQLite through gorm.
type GormBackend struct {
	db     *gorm.DB
	clock  clock.PassiveClock
	logger zerolog.Logger
}

// OpenSQLite opens (and migrates) a SQLite database at dsn.
func OpenSQLite(dsn string, c clock.PassiveClock, log zerolog.Logger) (*GormBackend, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open permission database: %w", err)
	}
	return NewGormBackend(db, c, log)
}

func NewGormBackend(db *gorm.DB, c clock.PassiveClock, log zerolog.Logger) (*GormBackend, error) {
	if err := db.AutoMigrate(&identityModel{}, &capabilityModel{}, &grantModel{}); err != nil {
		return nil, fmt.Errorf("migrate permission database: %w", err)
	}
	return &GormBackend{
		db:     db,
		clock:  c,
		logger: log.With().Str("component", "permission_backend").Logger(),
	}, nil
}

func (b *GormBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Register records an identity with a display name. Re-registering updates the name.
func (b *GormBackend) Register(ctx context.Context, id uuid.UUID, name string) error {
	rec := identityModel{Identity: id.String(), Name: name}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&rec).Error
}

// DisplayName returns the registered name, or the identity string if unknown.
func (b *GormBackend) DisplayName(ctx context.Context, id uuid.UUID) string {
	var rec identityModel
	if err := b.db.WithContext(ctx).Where("identity = ?", id.String()).Take(&rec).Error; err != nil || rec.Name == "" {
		return id.String()
	}
	return rec.Name
}

// AddCapability attaches a permanent capability such as doublelife.use.
func (b *GormBackend) AddCapability(ctx context.Context, id uuid.UUID, name string) error {
	if err := b.known(ctx, id); err != nil {
		return err
	}
	rec := capabilityModel{Identity: id.String(), Name: name}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func (b *GormBackend) RemoveCapability(ctx context.Context, id uuid.UUID, name string) error {
	return b.db.WithContext(ctx).
		Where("identity = ? AND name = ?", id.String(), name).
		Delete(&capabilityModel{}).Error
}

func (b *GormBackend) known(ctx context.Context, id uuid.UUID) error {
	var rec identityModel
	err := b.db.WithContext(ctx).Where("identity = ?", id.String()).Take(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUnknownIdentity
	}
	return err
}

// Grant upserts the permission with a fresh expiry.
func (b *GormBackend) Grant(ctx context.Context, id uuid.UUID, permission string, expiry time.Duration) error {
	if err := b.known(ctx, id); err != nil {
		return err
	}
	rec := grantModel{
		Identity:   id.String(),
		Permission: permission,
		ExpiresAt:  b.clock.Now().Add(expiry),
	}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}, {Name: "permission"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("grant %s: %w", permission, err)
	}
	b.logger.Debug().Str("identity", id.String()).Str("permission", permission).Time("expires_at", rec.ExpiresAt).Msg("Granted permission")
	return nil
}

func (b *GormBackend) Revoke(ctx context.Context, id uuid.UUID, permission string) error {
	if err := b.known(ctx, id); err != nil {
		return err
	}
	err := b.db.WithContext(ctx).
		Where("identity = ? AND permission = ?", id.String(), permission).
		Delete(&grantModel{}).Error
	if err != nil {
		return fmt.Errorf("revoke %s: %w", permission, err)
	}
	return nil
}

// HasCapability is true for a permanent capability or an unexpired grant.
func (b *GormBackend) HasCapability(ctx context.Context, id uuid.UUID, name string) bool {
	var n int64
	if err := b.db.WithContext(ctx).Model(&capabilityModel{}).
		Where("identity = ? AND name = ?", id.String(), name).Count(&n).Error; err != nil {
		b.logger.Warn().Err(err).Str("identity", id.String()).Msg("Capability lookup failed")
		return false
	}
	if n > 0 {
		return true
	}
	if err := b.db.WithContext(ctx).Model(&grantModel{}).
		Where("identity = ? AND permission = ? AND expires_at > ?", id.String(), name, b.clock.Now()).
		Count(&n).Error; err != nil {
		b.logger.Warn().Err(err).Str("identity", id.String()).Msg("Grant lookup failed")
		return false
	}
	return n > 0
}

// Grants lists the unexpired grants of an identity.
func (b *GormBackend) Grants(ctx context.Context, id uuid.UUID) ([]Grant, error) {
	var recs []grantModel
	if err := b.db.WithContext(ctx).
		Where("identity = ? AND expires_at > ?", id.String(), b.clock.Now()).
		Order("permission").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Grant, 0, len(recs))
	for _, r := range recs {
		out = append(out, Grant{Permission: r.Permission, ExpiresAt: r.ExpiresAt})
	}
	return out, nil
}

// PurgeExpired deletes grants whose expiry has passed and reports how many.
func (b *GormBackend) PurgeExpired(ctx context.Context) (int64, error) {
	res := b.db.WithContext(ctx).Where("expires_at <= ?", b.clock.Now()).Delete(&grantModel{})
	return res.RowsAffected, res.Error
}
