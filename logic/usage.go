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

// UsageLogic persists usage accounting rows from message.sent events and
// serves usage summaries.
type UsageLogic struct {
	userDAO  *dao.UserDAO
	usageDAO *dao.UsageDAO
	bus      bus.Bus
	log      *slog.Logger
}

func NewUsageLogic(userDAO *dao.UserDAO, usageDAO *dao.UsageDAO, eventBus bus.Bus, log *slog.Logger) *UsageLogic {
	return &UsageLogic{userDAO: userDAO, usageDAO: usageDAO, bus: eventBus, log: log}
}

// Listen subscribes to message.sent and records usage until ctx is done.
// Intended to run in its own goroutine.
func (l *UsageLogic) Listen(ctx context.Context) error {
	events, cancel, err := l.bus.Subscribe(ctx, bus.TopicMessageSent)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			var payload bus.MessageSentPayload
			if err := ev.Decode(&payload); err != nil {
				l.log.Warn("malformed message.sent payload", "error", err)
				continue
			}
			rec := &models.UsageRecord{
				UserID:     payload.UserID,
				ChatID:     payload.ChatID,
				MessageID:  payload.MessageID,
				TokensUsed: payload.TokensUsed,
			}
			if err := l.usageDAO.Record(rec); err != nil {
				l.log.Error("failed to record usage", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// UsageSummary is the caller-facing usage report
type UsageSummary struct {
	TotalTokens int64                `json:"total_tokens"`
	Recent      []models.UsageRecord `json:"recent"`
}

// Summary returns total tokens consumed plus the most recent entries
func (l *UsageLogic) Summary(externalUserID string) (*UsageSummary, error) {
	user, err := l.userDAO.GetByExternalID(externalUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkg.ErrNotFound
		}
		return nil, &pkg.PersistenceError{Op: "find user", Err: err}
	}

	total, err := l.usageDAO.TotalForUser(user.ID)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "sum usage", Err: err}
	}
	recent, err := l.usageDAO.ListForUser(user.ID, 20)
	if err != nil {
		return nil, &pkg.PersistenceError{Op: "list usage", Err: err}
	}
	return &UsageSummary{TotalTokens: total, Recent: recent}, nil
}
