package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"portal-service/internal/events"
	"portal-service/internal/models"
)

const defaultDuePaymentsSpec = "0 6 * * *"

// DueLister returns pending payments scheduled to post on a day.
type DueLister interface {
	DueOn(ctx context.Context, day time.Time) ([]models.Payment, error)
}

// Scheduler runs the periodic back-office jobs.
type Scheduler struct {
	cron      *cron.Cron
	payments  DueLister
	publisher events.Publisher
	spec      string
	logger    *zap.Logger
	now       func() time.Time
}

func New(payments DueLister, publisher events.Publisher, spec string, logger *zap.Logger) *Scheduler {
	if spec == "" {
		spec = defaultDuePaymentsSpec
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{
		cron:      c,
		payments:  payments,
		publisher: publisher,
		spec:      spec,
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.PublishDuePayments); err != nil {
		s.logger.Error("failed to schedule due payments job", zap.String("schedule", s.spec), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled due payments job", zap.String("schedule", s.spec))
	s.cron.Start()
	return nil
}

// Stop waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// PublishDuePayments emits payment.due for every pending payment whose post
// date is today (UTC).
func (s *Scheduler) PublishDuePayments() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	today := s.now().UTC()
	s.logger.Info("starting due payments job", zap.String("day", today.Format("2006-01-02")))

	due, err := s.payments.DueOn(ctx, today)
	if err != nil {
		s.logger.Error("failed to list due payments", zap.Error(err))
		return
	}

	published := 0
	for _, p := range due {
		event := events.NewEvent(events.TypePaymentDue, p.AccountID, p.PaymentID, map[string]string{
			"amount":       p.Amount.StringFixed(2),
			"payment_type": string(p.PaymentType),
			"post_date":    today.Format("2006-01-02"),
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish payment.due", zap.String("payment_id", p.PaymentID), zap.Error(err))
			continue
		}
		published++
	}

	s.logger.Info("due payments job finished", zap.Int("due", len(due)), zap.Int("published", published))
}
