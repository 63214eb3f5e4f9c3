package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const cleanupQueue = "default"

// ReaperServer планировщик и обработчик задачи очистки комнат.
// Задача уникальна на интервал, поэтому несколько инстансов не чистят одновременно.
type ReaperServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	handler   *CleanupHandler
	interval  time.Duration
	log       *logrus.Entry
}

func NewReaperServer(redisOpt asynq.RedisConnOpt, cleaner RoomCleaner, interval time.Duration, log *logrus.Entry) *ReaperServer {
	logEntry := log.WithField("component", "reaper")

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{cleanupQueue: 1},
		Logger:      logEntry,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retryCount, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logEntry.WithFields(logrus.Fields{
				"task_type": task.Type(),
				"retries":   retryCount,
				"max_retry": maxRetry,
			}).WithError(err).Error("Task failed")
		}),
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   logEntry,
	})

	return &ReaperServer{
		server:    server,
		scheduler: scheduler,
		handler:   NewCleanupHandler(cleaner, interval, log),
		interval:  interval,
		log:       logEntry,
	}
}

// Start регистрирует периодическую задачу и запускает обработчик и планировщик без блокировки
func (r *ReaperServer) Start() error {
	task, err := NewRoomCleanupTask(time.Now())
	if err != nil {
		return fmt.Errorf("build cleanup task: %w", err)
	}
	schedule := fmt.Sprintf("@every %s", r.interval)
	entryID, err := r.scheduler.Register(schedule, task,
		asynq.Queue(cleanupQueue),
		asynq.Unique(r.interval),
		asynq.MaxRetry(1),
		asynq.Timeout(r.interval),
	)
	if err != nil {
		return fmt.Errorf("register cleanup schedule: %w", err)
	}

	mux := asynq.NewServeMux()
	mux.Handle(TypeRoomCleanup, r.handler)
	if err := r.server.Start(mux); err != nil {
		return fmt.Errorf("start reaper server: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.server.Shutdown()
		return fmt.Errorf("start reaper scheduler: %w", err)
	}

	r.log.WithFields(logrus.Fields{"schedule": schedule, "entry_id": entryID}).Info("Reaper started")
	return nil
}

// Shutdown сначала останавливает планировщик, затем дожидается текущей задачи
func (r *ReaperServer) Shutdown() {
	r.log.Info("Shutting down reaper...")
	r.scheduler.Shutdown()
	r.server.Shutdown()
	r.log.Info("Reaper shut down complete.")
}
