package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"benefit-worker/internal/common/logging"
	"benefit-worker/internal/config"
	"benefit-worker/internal/models"
)

// HistoryReport is what the -history flag prints
type HistoryReport struct {
	CorrelationID string            `json:"correlationId"`
	SubjectID     string            `json:"subjectId"`
	GeneratedAt   time.Time         `json:"generatedAt"`
	Decisions     []models.Decision `json:"decisions"`
}

// RunHistory reads the full decision feed of one subject and writes it to
// out as indented JSON. It needs only the upstream settings.
func RunHistory(ctx context.Context, cfg *config.Config, subjectID string, out io.Writer) error {
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}

	app := newApp(cfg)
	if err := app.initializeUpstream(ctx); err != nil {
		return err
	}

	report := HistoryReport{
		CorrelationID: uuid.NewString(),
		SubjectID:     subjectID,
		GeneratedAt:   time.Now().UTC(),
	}
	logger := app.Logger.WithFields(logging.String("correlation_id", report.CorrelationID))

	start := time.Now()
	decisions, err := app.Benefits.DecisionFeed(ctx, subjectID)
	if err != nil {
		logger.Error("Failed to read decision feed", err)
		return err
	}
	if decisions == nil {
		decisions = []models.Decision{}
	}
	report.Decisions = decisions

	logger.Info("Decision feed read",
		logging.Int("decisions", len(decisions)),
		logging.Duration("elapsed", time.Since(start)),
	)

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
