package models

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("already exists")
	ErrCampaignNotDraft = errors.New("campaign is not in draft")
	ErrTenantBusy       = errors.New("tenant already has a campaign sending")
	ErrNotSending       = errors.New("campaign is not sending")
)
