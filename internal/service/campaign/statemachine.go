package campaign

import (
	"fmt"

	"github.com/pulsepost/delivery-engine/internal/domain"
)

// transitions is the campaign lifecycle table. A status maps to the set of
// statuses it may move to. The sent -> sending edge exists only for retry.
var transitions = map[domain.CampaignStatus][]domain.CampaignStatus{
	domain.CampaignDraft:     {domain.CampaignReview},
	domain.CampaignReview:    {domain.CampaignScheduled, domain.CampaignSending},
	domain.CampaignScheduled: {domain.CampaignSending, domain.CampaignDraft, domain.CampaignCancelled},
	domain.CampaignSending:   {domain.CampaignPaused, domain.CampaignCancelled, domain.CampaignSent},
	domain.CampaignPaused:    {domain.CampaignSending, domain.CampaignCancelled},
	domain.CampaignSent:      {domain.CampaignSending},
	domain.CampaignCancelled: {},
}

// CanTransition reports whether the lifecycle table allows from -> to.
func CanTransition(from, to domain.CampaignStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// validateTransition returns ErrInvalidTransition with a readable message
// when the lifecycle table forbids the move.
func validateTransition(from, to domain.CampaignStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot move campaign from '%s' to '%s'", ErrInvalidTransition, from, to)
	}
	return nil
}
