package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// sessionRow is the postgres shape of a Record. One row per event code; the
// version column backs the optimistic update.
type sessionRow struct {
	ID        uint      `gorm:"primaryKey"`
	Code      string    `gorm:"size:12;uniqueIndex;not null"`
	Version   int       `gorm:"not null"`
	Mode      string    `gorm:"size:16"`
	Status    string    `gorm:"size:16;not null"`
	Snapshot  []byte    `gorm:"not null"`
	Setup     []byte
	UpdatedAt time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "exchange_sessions"
}

type Gorm struct {
	db *gorm.DB
}

// OpenGorm connects to postgres and migrates the session table.
func OpenGorm(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, err
	}
	return &Gorm{db: db}, nil
}

// Save applies the record only if it is strictly newer than what the row
// holds. Stale writers get ErrVersionConflict rather than clobbering a
// concurrent update.
func (g *Gorm) Save(ctx context.Context, rec Record) error {
	res := g.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("code = ? AND version < ?", rec.Code, rec.Version).
		Updates(map[string]any{
			"version":    rec.Version,
			"mode":       rec.Mode,
			"status":     rec.Status,
			"snapshot":   rec.Snapshot,
			"setup":      rec.Setup,
			"updated_at": rec.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	row := sessionRow{
		Code:      rec.Code,
		Version:   rec.Version,
		Mode:      rec.Mode,
		Status:    rec.Status,
		Snapshot:  rec.Snapshot,
		Setup:     rec.Setup,
		UpdatedAt: rec.UpdatedAt,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrVersionConflict
		}
		return err
	}
	return nil
}

func (g *Gorm) Load(ctx context.Context, code string) (Record, error) {
	var row sessionRow
	err := g.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return Record{
		Code:      row.Code,
		Version:   row.Version,
		Mode:      row.Mode,
		Status:    row.Status,
		Snapshot:  row.Snapshot,
		Setup:     row.Setup,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (g *Gorm) Delete(ctx context.Context, code string) error {
	return g.db.WithContext(ctx).Where("code = ?", code).Delete(&sessionRow{}).Error
}
