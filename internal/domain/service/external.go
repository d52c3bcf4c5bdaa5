package service

import (
	"context"

	"GateKeeper/internal/domain/models"
)

// Analyzer runs the costly AI-assisted analysis for a situation.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// OrderBroker hands an approved order to the execution collaborator.
// A refusal is reported as *models.RejectionError.
type OrderBroker interface {
	Submit(ctx context.Context, intent models.OrderIntent) error
}
