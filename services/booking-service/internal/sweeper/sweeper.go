package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"

	"CondoParkPlatform/pkg/config"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/rabbitmq"
	"CondoParkPlatform/services/booking-service/internal/events"
)

// jobTimeout ограничивает одно выполнение задания
const jobTimeout = 30 * time.Second

// Completer завершает истекшие бронирования
type Completer interface {
	CompleteEnded(ctx context.Context) (int, error)
}

// RevocationSyncer обновляет локальный список отозванных кодов
type RevocationSyncer interface {
	Sync(ctx context.Context) error
}

// Purger удаляет истекшие окна лимитера
type Purger interface {
	Purge() int
}

// Sweeper запускает фоновые задания по расписанию cron
type Sweeper struct {
	cron      *cron.Cron
	completer Completer
	syncer    RevocationSyncer
	purgers   []Purger
	logger    logger.Logger
	isRunning bool
}

// New создает Sweeper и регистрирует задания. Пустое расписание отключает задание,
// nil зависимость тоже.
func New(cfg config.SweeperConfig, completer Completer, syncer RevocationSyncer, purgers []Purger, log logger.Logger) (*Sweeper, error) {
	s := &Sweeper{
		completer: completer,
		syncer:    syncer,
		purgers:   purgers,
		logger:    log,
	}

	cl := cronLogger{log: log}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))

	jobs := []struct {
		name     string
		schedule string
		enabled  bool
		run      func(ctx context.Context)
	}{
		{"complete_ended", cfg.CompleteSchedule, completer != nil, s.CompleteEnded},
		{"revocation_sync", cfg.RevocationSync, syncer != nil, s.SyncRevocations},
		{"bucket_cleanup", cfg.BucketCleanup, len(purgers) > 0, s.PurgeBuckets},
	}

	for _, job := range jobs {
		if job.schedule == "" || !job.enabled {
			continue
		}

		run := job.run
		if _, err := s.cron.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return nil, fmt.Errorf("invalid schedule for %s: %w", job.name, err)
		}

		log.Debug("Sweeper job registered",
			logger.String("job", job.name),
			logger.String("schedule", job.schedule),
		)
	}

	return s, nil
}

// Start запускает планировщик
func (s *Sweeper) Start(ctx context.Context) {
	if s.isRunning {
		return
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.Info("Sweeper started", logger.Int("jobs", len(s.cron.Entries())), logger.CtxField(ctx))
}

// Stop останавливает планировщик и ждет завершения выполняющихся заданий
func (s *Sweeper) Stop(ctx context.Context) {
	if !s.isRunning {
		return
	}

	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.logger.Info("Sweeper stopped", logger.CtxField(ctx))
	case <-ctx.Done():
		s.logger.Warn("Sweeper stop timed out", logger.CtxField(ctx))
	}
	s.isRunning = false
}

// CompleteEnded переводит подтвержденные бронирования с истекшим временем в completed
func (s *Sweeper) CompleteEnded(ctx context.Context) {
	started := time.Now()

	n, err := s.completer.CompleteEnded(ctx)
	if err != nil {
		s.logger.Error("Failed to complete ended reservations", logger.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Ended reservations completed",
			logger.Int("count", n),
			logger.Duration("took", time.Since(started)),
		)
	}
}

// SyncRevocations подтягивает коды, отозванные другими инстансами
func (s *Sweeper) SyncRevocations(ctx context.Context) {
	if err := s.syncer.Sync(ctx); err != nil {
		s.logger.Error("Failed to sync revoked tenant codes", logger.Error(err))
	}
}

// PurgeBuckets удаляет истекшие окна лимитеров в памяти
func (s *Sweeper) PurgeBuckets(ctx context.Context) {
	removed := 0
	for _, p := range s.purgers {
		removed += p.Purge()
	}
	if removed > 0 {
		s.logger.Debug("Expired rate limit buckets purged", logger.Int("count", removed))
	}
}

// RotationHandler возвращает обработчик события tenant.rotated:
// инстанс, не выполнявший ротацию, сразу обновляет список отозванных кодов.
func RotationHandler(syncer RevocationSyncer, log logger.Logger) rabbitmq.MessageHandler {
	return func(ctx context.Context, msg amqp091.Delivery) error {
		var event events.Event
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			log.Warn("Malformed rotation event dropped",
				logger.String("message_id", msg.MessageId),
				logger.Error(err),
			)
			return nil
		}
		if event.Type != events.TenantRotated {
			return nil
		}

		if err := syncer.Sync(ctx); err != nil {
			return fmt.Errorf("failed to sync revocations: %w", err)
		}

		log.Info("Revocations synced after rotation",
			logger.String("event_id", event.ID),
			logger.String("tenant", event.TenantFingerprint),
		)
		return nil
	}
}

// cronLogger передает сообщения cron в общий логгер
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kv(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kv(keysAndValues), logger.Error(err))...)
}

func kv(keysAndValues []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, logger.Any(key, keysAndValues[i+1]))
	}
	return fields
}
