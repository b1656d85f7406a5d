package dispatch

import (
	"errors"
	"fmt"

	"MemberSend/internal/models"
	"MemberSend/internal/quota"
)

var (
	ErrQueueFull    = errors.New("dispatch queue is full")
	ErrShuttingDown = errors.New("dispatch is shutting down")
)

type Reason string

const (
	ReasonQuotaExceeded Reason = "quota_exceeded"
	ReasonNoRecipients  Reason = "no_recipients"
	ReasonNotDraft      Reason = "not_draft"
	ReasonTenantBusy    Reason = "tenant_busy"
)

// AdmissionError rejects a send before any message goes out. The quota
// fields are set for ReasonQuotaExceeded so callers can explain the refusal.
type AdmissionError struct {
	Reason    Reason                `json:"reason"`
	Status    models.CampaignStatus `json:"campaign_status,omitempty"`
	Period    quota.Period          `json:"period,omitempty"`
	Limit     int                   `json:"limit,omitempty"`
	Remaining int                   `json:"remainingEmails"`
	Requested int                   `json:"requested,omitempty"`
}

func (e *AdmissionError) Error() string {
	switch e.Reason {
	case ReasonQuotaExceeded:
		return fmt.Sprintf("%s limit reached, %d remaining (requested %d)", e.Period, e.Remaining, e.Requested)
	case ReasonNoRecipients:
		return "campaign has no active subscribers"
	case ReasonNotDraft:
		return fmt.Sprintf("campaign is %s, only drafts can be sent", e.Status)
	case ReasonTenantBusy:
		return "another campaign is already sending"
	}
	return string(e.Reason)
}

func IsAdmission(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	ok := errors.As(err, &ae)
	return ae, ok
}
