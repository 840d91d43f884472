package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subtrack/internal/amqp"
	"subtrack/internal/core"
	"subtrack/internal/log"
	"subtrack/internal/store"
)

// ReminderPublisher delivers renewal reminders. *amqp.Client implements it.
type ReminderPublisher interface {
	PublishRenewalReminder(ctx context.Context, msg *amqp.RenewalReminderMessage) error
}

// LogPublisher writes reminders to the log. It is used when AMQP is not
// configured.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogPublisher{logger: logger.WithComponent(log.ComponentWorker)}
}

func (p *LogPublisher) PublishRenewalReminder(ctx context.Context, msg *amqp.RenewalReminderMessage) error {
	p.logger.InfoContext(ctx, "Renewal reminder",
		log.FieldSubscription, msg.SubscriptionID,
		log.FieldService, msg.ServiceName,
		log.FieldNextBilling, msg.NextBillingDate.String(),
		log.FieldCost, msg.CostFormatted,
		"label", msg.Label)
	return nil
}

// ReminderProcessor publishes one reminder per subscription and billing date
// for renewals inside the lead window. Sent reminders are remembered for the
// lifetime of the processor.
type ReminderProcessor struct {
	store     store.Reader
	publisher ReminderPublisher
	leadDays  int
	logger    *log.Logger
	now       func() time.Time

	mu   sync.Mutex
	sent map[string]core.Date
}

func NewReminderProcessor(r store.Reader, publisher ReminderPublisher, leadDays int, logger *log.Logger) *ReminderProcessor {
	if logger == nil {
		logger = log.Discard()
	}
	if publisher == nil {
		publisher = NewLogPublisher(logger)
	}
	return &ReminderProcessor{
		store:     r,
		publisher: publisher,
		leadDays:  leadDays,
		logger:    logger.WithComponent(log.ComponentWorker),
		now:       time.Now,
		sent:      make(map[string]core.Date),
	}
}

// ProcessDueReminders publishes reminders for renewals in
// [today, today+leadDays] that have not been sent yet and returns how many
// were published. A failed publish is logged and retried on the next run.
func (p *ReminderProcessor) ProcessDueReminders(ctx context.Context, today core.Date) (int, error) {
	if p.store == nil || p.publisher == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	subs, err := p.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	today = core.DateOf(today.Time)
	renewals := UpcomingRenewals(subs, today, p.leadDays)

	p.logger.InfoContext(ctx, "Processing renewal reminders",
		"total_subscriptions", len(subs),
		"due", len(renewals),
		"processing_date", today.String())

	p.forgetBefore(today)

	published := 0
	for _, r := range renewals {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		msg := amqp.NewRenewalReminderMessage(r)
		key := msg.DedupKey()
		if p.wasSent(key) {
			continue
		}

		if err := p.publisher.PublishRenewalReminder(ctx, msg); err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish renewal reminder",
				log.FieldSubscription, msg.SubscriptionID,
				log.FieldNextBilling, msg.NextBillingDate.String(),
				log.FieldError, err.Error())
			continue
		}

		p.markSent(key, r.Subscription.NextBillingDate)
		published++
		p.logger.DebugContext(ctx, "Renewal reminder published",
			log.FieldSubscription, msg.SubscriptionID,
			log.FieldService, msg.ServiceName,
			"label", msg.Label)
	}

	p.logger.InfoContext(ctx, "Renewal reminder processing complete",
		"published", published,
		"total_checked", len(renewals))

	return published, nil
}

// Run processes reminders immediately and then every interval until ctx is
// done.
func (p *ReminderProcessor) Run(ctx context.Context, interval time.Duration) {
	p.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Reminder processor stopped", log.FieldOperation, log.OpShutdown)
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *ReminderProcessor) runOnce(ctx context.Context) {
	start := time.Now()
	n, err := p.ProcessDueReminders(ctx, core.DateOf(p.now().UTC()))
	if err != nil {
		p.logger.ErrorContext(ctx, "Reminder processing failed",
			log.FieldOperation, log.OpRemind,
			log.FieldError, err.Error())
		return
	}
	p.logger.InfoContext(ctx, "Reminder run finished",
		log.FieldOperation, log.OpRemind,
		"published", n,
		log.FieldDuration, time.Since(start).Milliseconds())
}

func (p *ReminderProcessor) wasSent(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sent[key]
	return ok
}

func (p *ReminderProcessor) markSent(key string, date core.Date) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[key] = date
}

// forgetBefore drops keys for billing dates already in the past; they can
// never be due again.
func (p *ReminderProcessor) forgetBefore(today core.Date) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, date := range p.sent {
		if date.Before(today.Time) {
			delete(p.sent, key)
		}
	}
}
