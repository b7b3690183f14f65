package logic

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"radon-backend/dao"
	"radon-backend/models"
	"radon-backend/pkg"
	"radon-backend/pkg/bus"
)

// UserLogic handles user-related business logic
type UserLogic struct {
	userDAO *dao.UserDAO
	bus     bus.Bus
	log     *slog.Logger
}

func NewUserLogic(userDAO *dao.UserDAO, eventBus bus.Bus, log *slog.Logger) *UserLogic {
	return &UserLogic{userDAO: userDAO, bus: eventBus, log: log}
}

// SyncUser resolves the external identity to a local account, creating one
// on first login.
func (l *UserLogic) SyncUser(externalID, email, name string) (*models.User, error) {
	if externalID == "" {
		return nil, &pkg.ValidationError{Msg: "external id is required"}
	}
	user, created, err := l.userDAO.FindOrCreate(externalID, email, name)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "sync user", Err: err}
	}
	if created && l.bus != nil {
		payload := map[string]string{"user_id": user.ID.String(), "external_id": externalID}
		if err := l.bus.Publish(context.Background(), bus.TopicUserCreated, payload); err != nil {
			l.log.Warn("failed to publish user.created", "error", err)
		}
	}
	return user, nil
}

// GetUser retrieves the caller's profile
func (l *UserLogic) GetUser(externalID string) (*models.User, error) {
	user, err := l.userDAO.GetByExternalID(externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find user", Err: err}
	}
	return user, nil
}
