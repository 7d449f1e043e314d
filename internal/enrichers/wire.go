package enrichers

import (
	"benefit-worker/internal/common/errors"
	"benefit-worker/internal/models"
)

// Response shapes of the benefits provider

type wirePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type wireAllotment struct {
	Period wirePeriod `json:"period"`
}

type wireDecision struct {
	SubjectID string          `json:"subjectId"`
	DecidedAt string          `json:"decidedAt"`
	Period    wirePeriod      `json:"period"`
	Anvist    []wireAllotment `json:"anvist"`
}

type wireFeedElement struct {
	wireDecision
	Type string `json:"type"`
}

type wireFeedPage struct {
	HasMore  bool              `json:"hasMore"`
	Elements []wireFeedElement `json:"elements"`
}

func parsePeriod(p wirePeriod, field string) (models.Period, error) {
	from, err := models.ParseDate(p.From)
	if err != nil {
		return models.Period{}, errors.ParseError(field+".from", err)
	}
	to, err := models.ParseDate(p.To)
	if err != nil {
		return models.Period{}, errors.ParseError(field+".to", err)
	}
	return models.Period{From: from, To: to}, nil
}

// toDecision converts the wire shape, naming the first field that fails
func (w wireDecision) toDecision() (*models.Decision, error) {
	period, err := parsePeriod(w.Period, "period")
	if err != nil {
		return nil, err
	}

	decidedAt, err := models.ParseDateTime(w.DecidedAt)
	if err != nil {
		return nil, errors.ParseError("decidedAt", err)
	}

	periods := make([]models.Period, 0, len(w.Anvist))
	for _, a := range w.Anvist {
		p, err := parsePeriod(a.Period, "anvist.period")
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}

	return &models.Decision{
		SubjectID: w.SubjectID,
		From:      period.From,
		To:        period.To,
		DecidedAt: decidedAt,
		Periods:   periods,
	}, nil
}
