package playbook

import "errors"

// Sentinel errors for the playbook service layer.
var (
	ErrNotFound           = errors.New("playbook not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrFreezeNotFound     = errors.New("freeze request not found")
	ErrActiveConflict     = errors.New("another playbook is already active for this trigger type")
	ErrInvalidConfig      = errors.New("invalid playbook configuration")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrDuplicateExecution = errors.New("execution already exists for this throttle window")
)
