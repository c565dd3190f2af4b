package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrRecipientAlreadyProcessed is returned when an outcome is recorded for a
	// recipient that already reached a terminal status. Callers treat it as a no-op.
	ErrRecipientAlreadyProcessed = errors.New("recipient already processed")
	ErrRecipientNotFound         = errors.New("recipient not found")
	// ErrClaimInFlight means another driver holds the campaign's in-flight claim.
	ErrClaimInFlight = errors.New("another dispatch step is in flight for this campaign")
	// ErrStaleStatus means a compare-and-set status update lost a race.
	ErrStaleStatus = errors.New("campaign status changed concurrently")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrInvalidStateTransition struct {
	CampaignID int
	From       string
	Action     string
	Reason     string
}

func (e *ErrInvalidStateTransition) Error() string {
	msg := fmt.Sprintf("campaign %d: cannot %s from status %s", e.CampaignID, e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func NewInvalidStateTransition(id int, from, action string) error {
	return &ErrInvalidStateTransition{CampaignID: id, From: from, Action: action}
}

type ErrCampaignNotRunning struct {
	CampaignID int
	Status     string
}

func (e *ErrCampaignNotRunning) Error() string {
	return fmt.Sprintf("campaign %d is not running (status %s)", e.CampaignID, e.Status)
}

func NewCampaignNotRunning(id int, status string) error {
	return &ErrCampaignNotRunning{CampaignID: id, Status: status}
}

// ErrValidation wraps bad caller input.
type ErrValidation struct {
	Message string
}

func (e *ErrValidation) Error() string { return e.Message }

func NewValidation(format string, args ...any) error {
	return &ErrValidation{Message: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf) || errors.Is(err, ErrRecipientNotFound)
}

func IsInvalidTransition(err error) bool {
	var it *ErrInvalidStateTransition
	return errors.As(err, &it)
}

func IsNotRunning(err error) bool {
	var nr *ErrCampaignNotRunning
	return errors.As(err, &nr)
}

func IsValidation(err error) bool {
	var v *ErrValidation
	return errors.As(err, &v)
}
