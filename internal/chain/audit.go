package chain

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/spigell/hh-analyzer/internal/models"
)

// Audit projects the outcome into its stored form.
func (o Outcome) Audit() models.ChainAudit {
	a := models.ChainAudit{
		PostingID:     o.PostingID,
		ChainID:       o.ChainID,
		Success:       o.Success,
		ErrorMessage:  o.ErrorMessage,
		StoppedAtStep: o.StoppedAtStep,
		StopReason:    o.StopReason,
		StepsExecuted: len(o.Steps),
		FinalScore:    o.FinalScore,
		DurationMs:    o.Duration.Milliseconds(),
	}
	if o.Score != nil {
		a.Rating = string(o.Score.Rating)
	}
	if steps, err := json.Marshal(o.Steps); err == nil {
		a.Steps = datatypes.JSON(steps)
	}
	return a
}
