// Package errors provides structured error handling for the jury client.
// Every failure that reaches a caller carries a machine-readable code,
// an exit code for the CLI, optional details (such as a revert reason)
// and an optional suggestion for the end user.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the jury CLI.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input or configuration
	ExitAuth       = 3 // Rejected by the user or the wallet
	ExitNotFound   = 4 // Resource not found
	ExitPermission = 5 // Rejected by the contract
)

// JuryError is the structured error type used across the module.
type JuryError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *JuryError) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *JuryError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a JuryError with the same code.
func (e *JuryError) Is(target error) bool {
	var t *JuryError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Generic errors.
var (
	ErrGeneral = &JuryError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &JuryError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	ErrNotFound = &JuryError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	ErrInvalidAddress = &JuryError{
		Code:     "INVALID_ADDRESS",
		Message:  "invalid address format",
		ExitCode: ExitInput,
	}

	ErrNetworkError = &JuryError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitGeneral,
	}

	ErrConfigNotFound = &JuryError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &JuryError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	ErrUnknownConfigKey = &JuryError{
		Code:     "UNKNOWN_CONFIG_KEY",
		Message:  "unknown config key",
		ExitCode: ExitInput,
	}

	ErrInvalidMnemonic = &JuryError{
		Code:     "INVALID_MNEMONIC",
		Message:  "invalid mnemonic phrase",
		ExitCode: ExitInput,
	}

	ErrDecryptionFailed = &JuryError{
		Code:     "DECRYPTION_FAILED",
		Message:  "decryption failed - wrong passphrase or corrupted file",
		ExitCode: ExitAuth,
	}
)

// Wallet connection errors.
var (
	ErrNoProviderFound = &JuryError{
		Code:       "NO_PROVIDER_FOUND",
		Message:    "no wallet provider found",
		Suggestion: "Install or open a wallet, or configure one with 'jury wallet init'",
		ExitCode:   ExitNotFound,
	}

	ErrUserRejected = &JuryError{
		Code:     "USER_REJECTED",
		Message:  "request rejected by the user",
		ExitCode: ExitAuth,
	}

	ErrRequestFailed = &JuryError{
		Code:     "REQUEST_FAILED",
		Message:  "wallet request failed",
		ExitCode: ExitGeneral,
	}

	ErrNoActiveProvider = &JuryError{
		Code:       "NO_ACTIVE_PROVIDER",
		Message:    "no wallet connected",
		Suggestion: "Run 'jury connect' first",
		ExitCode:   ExitInput,
	}

	ErrSwitchRejected = &JuryError{
		Code:     "SWITCH_REJECTED",
		Message:  "network switch rejected",
		ExitCode: ExitAuth,
	}

	ErrSwitchTimeout = &JuryError{
		Code:     "SWITCH_TIMEOUT",
		Message:  "wallet did not report the network change",
		ExitCode: ExitGeneral,
	}
)

// Encrypted computation errors.
var (
	ErrSDKLoad = &JuryError{
		Code:       "SDK_LOAD_ERROR",
		Message:    "failed to load the relayer SDK",
		Suggestion: "Check the relayer URL and retry",
		ExitCode:   ExitGeneral,
	}

	ErrSDKInit = &JuryError{
		Code:     "SDK_INIT_ERROR",
		Message:  "failed to initialize the relayer SDK",
		ExitCode: ExitGeneral,
	}

	ErrInvalidACLAddress = &JuryError{
		Code:     "INVALID_ACL_ADDRESS",
		Message:  "invalid ACL contract address",
		ExitCode: ExitInput,
	}

	ErrSessionNotReady = &JuryError{
		Code:     "FHEVM_NOT_READY",
		Message:  "encrypted computation session is not ready",
		ExitCode: ExitGeneral,
	}
)

// Contract errors.
var (
	ErrNotDeployed = &JuryError{
		Code:       "NOT_DEPLOYED",
		Message:    "contract not deployed on this chain",
		Suggestion: "Switch to a supported network with 'jury switch-chain'",
		ExitCode:   ExitInput,
	}

	ErrContractRevert = &JuryError{
		Code:     "CONTRACT_REVERT",
		Message:  "contract call reverted",
		ExitCode: ExitPermission,
	}

	ErrTxFailed = &JuryError{
		Code:     "TX_FAILED",
		Message:  "transaction failed",
		ExitCode: ExitGeneral,
	}

	ErrInvalidScore = &JuryError{
		Code:     "INVALID_SCORE",
		Message:  "score must be between 0 and 100",
		ExitCode: ExitInput,
	}
)

// New creates a new JuryError with the given code and message.
func New(code, message string) *JuryError {
	return &JuryError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var je *JuryError
	if errors.As(err, &je) {
		return &JuryError{
			Code:       je.Code,
			Message:    fmt.Sprintf("%s: %s", msg, je.Message),
			Details:    je.Details,
			Suggestion: je.Suggestion,
			Cause:      je.Cause,
			ExitCode:   je.ExitCode,
		}
	}

	return &JuryError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithCause attaches cause to a copy of err. Sentinels stay untouched.
func WithCause(err, cause error) error {
	if err == nil {
		return nil
	}

	var je *JuryError
	if errors.As(err, &je) {
		cp := *je
		cp.Cause = cause
		return &cp
	}
	return fmt.Errorf("%w: %w", err, cause)
}

// WithDetails adds details to an error, merging with any existing ones.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var je *JuryError
	if errors.As(err, &je) {
		merged := make(map[string]string, len(je.Details)+len(details))
		for k, v := range je.Details {
			merged[k] = v
		}
		for k, v := range details {
			merged[k] = v
		}
		cp := *je
		cp.Details = merged
		return &cp
	}

	return &JuryError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var je *JuryError
	if errors.As(err, &je) {
		cp := *je
		cp.Suggestion = suggestion
		return &cp
	}

	return &JuryError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// Detail returns a detail value from the first JuryError in the chain.
func Detail(err error, key string) string {
	var je *JuryError
	if errors.As(err, &je) {
		return je.Details[key]
	}
	return ""
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var je *JuryError
	if errors.As(err, &je) {
		return je.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var je *JuryError
	if errors.As(err, &je) {
		return je.Code
	}
	return "GENERAL_ERROR"
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
