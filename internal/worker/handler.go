package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// RoomCleaner переводит истёкшие комнаты в expired и возвращает их число
type RoomCleaner interface {
	CleanupExpiredRooms(ctx context.Context) (int, error)
}

// CleanupHandler обрабатывает периодическую задачу очистки комнат
type CleanupHandler struct {
	cleaner RoomCleaner
	timeout time.Duration
	log     *logrus.Entry
}

func NewCleanupHandler(cleaner RoomCleaner, timeout time.Duration, log *logrus.Entry) *CleanupHandler {
	if cleaner == nil {
		panic("RoomCleaner cannot be nil for CleanupHandler")
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CleanupHandler{cleaner: cleaner, timeout: timeout, log: log.WithField("component", "cleanup_handler")}
}

// ProcessTask реализует asynq.Handler
func (h *CleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	retry, _ := asynq.GetRetryCount(ctx)
	logCtx := h.log.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     retry,
	})

	if len(t.Payload()) > 0 {
		var payload CleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logCtx.WithError(err).Error("Failed to unmarshal cleanup payload")
			return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
		}
		logCtx = logCtx.WithField("registered_at", payload.RegisteredAt)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	n, err := h.cleaner.CleanupExpiredRooms(runCtx)
	if err != nil {
		logCtx.WithError(err).Error("Room cleanup failed")
		return fmt.Errorf("cleanup expired rooms: %w", err)
	}
	if n > 0 {
		logCtx.WithField("expired", n).Info("Room cleanup task processed")
	} else {
		logCtx.Debug("Room cleanup task found nothing to expire")
	}
	return nil
}
