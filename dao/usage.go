package dao

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"radon-backend/models"
)

// UsageDAO handles usage accounting rows
type UsageDAO struct {
	db *gorm.DB
}

func NewUsageDAO(db *gorm.DB) *UsageDAO {
	return &UsageDAO{db: db}
}

// Record saves one usage entry
func (d *UsageDAO) Record(rec *models.UsageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return d.db.Create(rec).Error
}

// TotalForUser sums tokens consumed by a user
func (d *UsageDAO) TotalForUser(userID uuid.UUID) (int64, error) {
	var total int64
	err := d.db.Model(&models.UsageRecord{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(tokens_used), 0)").
		Scan(&total).Error
	return total, err
}

// ListForUser retrieves usage rows for a user, newest first
func (d *UsageDAO) ListForUser(userID uuid.UUID, limit int) ([]models.UsageRecord, error) {
	var recs []models.UsageRecord
	if err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
