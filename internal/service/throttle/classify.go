package throttle

import (
	"strings"

	"GateKeeper/internal/domain/models"
)

var (
	rateLimitHints   = []string{"rate limit", "rate_limit", "ratelimit", "too many", "429", "throttl"}
	minSizeHints     = []string{"min size", "min_size", "minimum", "too small", "min notional", "min_notional", "lot size"}
	persistenceHints = []string{"persist", "database", "storage", "db error", "write failed", "save"}
)

// Classify maps a broker rejection to a kind from its code and reason text.
// Anything unrecognised is treated as a network failure.
func Classify(code, reason string) models.RejectionKind {
	text := strings.ToLower(code + " " + reason)
	switch {
	case containsAny(text, rateLimitHints):
		return models.RejectRateLimit
	case containsAny(text, minSizeHints):
		return models.RejectMinSize
	case containsAny(text, persistenceHints):
		return models.RejectPersistence
	default:
		return models.RejectNetwork
	}
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
