package worker

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TypeRoomCleanup = "rooms:cleanup"

// CleanupPayload момент регистрации расписания; задача строится один раз на все запуски
type CleanupPayload struct {
	RegisteredAt time.Time `json:"registered_at"`
}

func NewRoomCleanupTask(registeredAt time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(CleanupPayload{RegisteredAt: registeredAt.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomCleanup, payload), nil
}
