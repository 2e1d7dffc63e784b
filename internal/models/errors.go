package models

import "errors"

// ErrorType identifies the category of infrastructure fault that occurred.
type ErrorType string

const (
	// Provisioning phase
	ErrProvisionTimeout ErrorType = "provision_timeout"
	ErrProvisionFailed  ErrorType = "provision_failed"

	// Setup phase
	ErrSetupFailure ErrorType = "setup_failure"

	// Running phase
	ErrInstanceCommunication ErrorType = "instance_communication"

	// Evaluation phase
	ErrUnknownChecker ErrorType = "unknown_checker"
	ErrCheckerFailed  ErrorType = "checker_failed"

	// Scheduler
	ErrResetFailed ErrorType = "reset_failed"
	ErrCancelled   ErrorType = "cancelled"

	// Catch-all
	ErrInternal ErrorType = "internal_error"
)

// Sentinel errors for provider and evaluator contract violations.
var (
	// ErrNotReady is returned when an address is requested from a handle
	// whose acquire has not completed.
	ErrNotReady = errors.New("environment not ready")

	// ErrProvisionTimedOut is returned when a backend fails to reach ready
	// state within the provisioning timeout.
	ErrProvisionTimedOut = errors.New("provisioning timed out")

	// ErrUnknownCheckerType is returned for checker specs whose type has no
	// registered implementation. Catalog loading treats this as fatal.
	ErrUnknownCheckerType = errors.New("unknown checker type")
)
