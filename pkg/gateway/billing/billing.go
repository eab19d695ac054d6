// Package billing reports voice usage to Stripe as billing meter events.
// Reporting is best effort: a failed report is logged and never blocks the
// call teardown.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/billing/meterevent"
)

// UsageEvent is one completed voice session's usage.
type UsageEvent struct {
	UserID          string
	SessionID       int64
	DurationMinutes float64
	EstimatedCost   float64
}

// Reporter records usage somewhere. The zero-config deployment uses
// NoopReporter.
type Reporter interface {
	ReportVoiceUsage(ctx context.Context, ev UsageEvent)
}

type NoopReporter struct{}

func (NoopReporter) ReportVoiceUsage(context.Context, UsageEvent) {}

// StripeReporter sends one meter event per completed session.
type StripeReporter struct {
	meterName string
	logger    *slog.Logger
}

func NewStripeReporter(apiKey, meterName string, logger *slog.Logger) *StripeReporter {
	stripe.Key = apiKey
	return &StripeReporter{meterName: meterName, logger: logger}
}

func (r *StripeReporter) ReportVoiceUsage(ctx context.Context, ev UsageEvent) {
	params := &stripe.BillingMeterEventParams{
		EventName:  stripe.String(r.meterName),
		Identifier: stripe.String(fmt.Sprintf("voice_session_%d", ev.SessionID)),
		Timestamp:  stripe.Int64(time.Now().Unix()),
		Payload: map[string]string{
			"value":              strconv.FormatFloat(ev.DurationMinutes, 'f', 2, 64),
			"stripe_customer_id": ev.UserID,
		},
	}
	params.Context = ctx

	if _, err := meterevent.New(params); err != nil {
		r.logger.Error("stripe meter event failed",
			"session_id", ev.SessionID,
			"error", err,
		)
		return
	}
	r.logger.Info("voice usage reported",
		"session_id", ev.SessionID,
		"minutes", ev.DurationMinutes,
		"estimated_cost", ev.EstimatedCost,
	)
}
