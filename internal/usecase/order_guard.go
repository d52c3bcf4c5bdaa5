package usecase

import (
	"context"
	"errors"
	"time"

	"GateKeeper/internal/domain/models"
	domrepo "GateKeeper/internal/domain/repository"
	domsvc "GateKeeper/internal/domain/service"
	"GateKeeper/internal/service/throttle"
	"GateKeeper/pkg/logger"
	pkgmetrics "GateKeeper/pkg/metrics"
)

// OrderResult reports what happened to one order intent.
type OrderResult struct {
	Intent    models.OrderIntent       `json:"intent"`
	Check     models.CheckResult       `json:"check"`
	Submitted bool                     `json:"submitted"`
	Accepted  bool                     `json:"accepted"`
	Rejection *models.RejectionOutcome `json:"rejection,omitempty"`
}

// OrderGuard puts the order throttle in front of the broker.
type OrderGuard struct {
	throttle *throttle.Throttle
	broker   domsvc.OrderBroker
	log      *logger.Logger
	metrics  domrepo.Metrics
}

func NewOrderGuard(t *throttle.Throttle, broker domsvc.OrderBroker, l *logger.Logger, metrics domrepo.Metrics) *OrderGuard {
	if l == nil {
		l = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &OrderGuard{throttle: t, broker: broker, log: l.With("order_guard"), metrics: metrics}
}

// Submit checks the throttle, logs the attempt and hands the intent to the
// broker. Throttle denials and broker rejections are reported in the result.
func (g *OrderGuard) Submit(ctx context.Context, intent models.OrderIntent) OrderResult {
	res := OrderResult{Intent: intent}
	res.Check = g.throttle.CheckAll(intent.Action)
	if !res.Check.OK {
		g.log.Info("order throttled",
			logger.String("symbol", intent.Symbol),
			logger.String("action", string(intent.Action)),
			logger.String("reason", res.Check.Reason),
			logger.Time("next_allowed", res.Check.NextAllowed),
		)
		return res
	}

	attempt := g.throttle.RecordAttempt(ctx, intent.Symbol, intent.Action, models.AttemptSubmitted)
	res.Intent.ID = attempt.ID
	if res.Intent.At.IsZero() {
		res.Intent.At = attempt.At
	}
	res.Submitted = true

	start := time.Now()
	err := g.broker.Submit(ctx, res.Intent)
	g.metrics.RecordLatency("order_submit", time.Since(start).Seconds())
	if err == nil {
		g.throttle.HandleSuccess(intent.Action)
		res.Accepted = true
		return res
	}

	code, reason := "", err.Error()
	var rej *models.RejectionError
	if errors.As(err, &rej) {
		code, reason = rej.Code, rej.Reason
	}
	out := g.throttle.HandleRejection(ctx, code, reason)
	res.Rejection = &out
	g.metrics.RecordError("order_rejected")
	g.log.Warn("order rejected",
		logger.String("symbol", intent.Symbol),
		logger.String("action", string(intent.Action)),
		logger.String("kind", string(out.Kind)),
		logger.Duration("backoff_ms", out.Backoff),
		logger.Bool("halted", out.Halted),
		logger.Error(err),
	)
	return res
}

// IntentFrom maps an analysis verdict to an order intent. It returns false
// when the verdict does not ask for an order.
func IntentFrom(res *models.AnalysisResult, pos *models.Position, eventID string) (models.OrderIntent, bool) {
	if res == nil || res.Outcome == "" || res.Outcome == models.OutcomeNoTrade {
		return models.OrderIntent{}, false
	}
	intent := models.OrderIntent{
		Symbol:  res.Symbol,
		Action:  res.Action,
		Size:    res.Size,
		Reason:  res.Summary,
		EventID: eventID,
	}
	switch res.Outcome {
	case "long":
		intent.Side = models.SideLong
	case "short":
		intent.Side = models.SideShort
	case "exit":
		if pos == nil {
			return models.OrderIntent{}, false
		}
		intent.Side = pos.Side
		if intent.Action == "" {
			intent.Action = models.ActionClose
		}
		if intent.Size == 0 {
			intent.Size = pos.Size
		}
	}
	if intent.Action == "" {
		intent.Action = models.ActionOpen
		if pos != nil && pos.Side == intent.Side {
			intent.Action = models.ActionAdd
		}
	}
	return intent, true
}
