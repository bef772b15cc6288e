package scheduler

import (
	"fmt"

	"github.com/openpredict/settlecore/internal/domain"
)

// TemplateTagPriceThreshold settles yes when the snapshot price is at or
// above a threshold encoded in the market params.
const TemplateTagPriceThreshold = "price-threshold"

// OutcomeTemplate decides a market's winning outcome from its settlement
// snapshot. Templates form a closed set selected by tag; adding a settlement
// style means adding a variant here, not plugging in arbitrary code.
type OutcomeTemplate interface {
	Tag() string
	Decide(snapshotPrice int64, params []byte) (domain.Outcome, error)
}

type thresholdTemplate struct{}

func (thresholdTemplate) Tag() string { return TemplateTagPriceThreshold }

func (thresholdTemplate) Decide(snapshotPrice int64, params []byte) (domain.Outcome, error) {
	threshold, err := domain.DecodeThresholdParams(params)
	if err != nil {
		return domain.OutcomeUnresolved, fmt.Errorf("template %s: %w", TemplateTagPriceThreshold, err)
	}
	if snapshotPrice >= threshold {
		return domain.OutcomeYes, nil
	}
	return domain.OutcomeNo, nil
}

var templates = map[string]OutcomeTemplate{
	TemplateTagPriceThreshold: thresholdTemplate{},
}

// TemplateFor returns the outcome template registered under tag.
func TemplateFor(tag string) (OutcomeTemplate, error) {
	t, ok := templates[tag]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", tag, domain.ErrUnknownTemplate)
	}
	return t, nil
}
