package dao

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"radon-backend/models"
)

// UserDAO handles user-related database operations
type UserDAO struct {
	db *gorm.DB
}

func NewUserDAO(db *gorm.DB) *UserDAO {
	return &UserDAO{db: db}
}

// FindOrCreate resolves the external auth identity to a local user,
// creating the row on first contact.
func (d *UserDAO) FindOrCreate(externalID, email, name string) (*models.User, bool, error) {
	var user models.User
	err := d.db.Where("external_id = ?", externalID).First(&user).Error
	if err == nil {
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	user = models.User{
		ID:         uuid.New(),
		ExternalID: externalID,
		Email:      email,
		Name:       name,
	}
	if err := d.db.Create(&user).Error; err != nil {
		return nil, false, err
	}
	return &user, true, nil
}

// GetByExternalID retrieves a user by the auth provider subject
func (d *UserDAO) GetByExternalID(externalID string) (*models.User, error) {
	var user models.User
	if err := d.db.Where("external_id = ?", externalID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByID retrieves a user by primary key
func (d *UserDAO) GetByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := d.db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
