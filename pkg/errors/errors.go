package errors

import (
	"errors"
	"fmt"
)

// AppError is the structured error carried inside every Result returned by
// the key manager and the mini-app SDK.
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, ErrWalletNotFound) works regardless of Detail.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	ErrCodeBiometricUnavailable   = "BIOMETRIC_UNAVAILABLE"
	ErrCodeCredentialsNotFound    = "CREDENTIALS_NOT_FOUND"
	ErrCodeWalletNotFound         = "WALLET_NOT_FOUND"
	ErrCodeInvalidMnemonic        = "INVALID_MNEMONIC"
	ErrCodeInvalidPrivateKey      = "INVALID_PRIVATE_KEY"
	ErrCodePermissionDenied       = "PERMISSION_DENIED"
	ErrCodeNetworkError           = "NETWORK_ERROR"
	ErrCodeStorageError           = "STORAGE_ERROR"
	ErrCodeSigningFailed          = "SIGNING_FAILED"
	ErrCodeWalletExists           = "WALLET_EXISTS"
	ErrCodeInvalidPIN             = "INVALID_PIN"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeInvalidTransaction     = "INVALID_TRANSACTION"
	ErrCodeInvalidManifest        = "INVALID_MANIFEST"
	ErrCodeInconsistentState      = "INCONSISTENT_STATE"
	ErrCodeUnsupportedNetwork     = "UNSUPPORTED_NETWORK"
	ErrCodeUIUnavailable          = "UI_UNAVAILABLE"
	ErrCodeInvalidEvent           = "INVALID_EVENT"
)

// Predefined errors. Use them as errors.Is targets or as templates via WithDetail.
var (
	ErrAuthenticationRequired = &AppError{
		Code:      ErrCodeAuthenticationRequired,
		Message:   "Authentication required",
		Retryable: true,
	}

	ErrBiometricUnavailable = &AppError{
		Code:    ErrCodeBiometricUnavailable,
		Message: "Biometric authentication is not available on this device",
	}

	ErrCredentialsNotFound = &AppError{
		Code:    ErrCodeCredentialsNotFound,
		Message: "Wallet credentials not found",
	}

	ErrWalletNotFound = &AppError{
		Code:    ErrCodeWalletNotFound,
		Message: "Wallet not found",
	}

	ErrInvalidMnemonic = &AppError{
		Code:    ErrCodeInvalidMnemonic,
		Message: "Invalid recovery phrase",
	}

	ErrInvalidPrivateKey = &AppError{
		Code:    ErrCodeInvalidPrivateKey,
		Message: "Invalid private key",
	}

	ErrNetwork = &AppError{
		Code:      ErrCodeNetworkError,
		Message:   "Network request failed",
		Retryable: true,
	}

	ErrStorage = &AppError{
		Code:    ErrCodeStorageError,
		Message: "Secure storage unavailable",
	}

	ErrSigningFailed = &AppError{
		Code:    ErrCodeSigningFailed,
		Message: "Failed to sign",
	}

	ErrWalletExists = &AppError{
		Code:    ErrCodeWalletExists,
		Message: "Wallet already exists",
	}

	ErrInvalidPIN = &AppError{
		Code:      ErrCodeInvalidPIN,
		Message:   "Invalid PIN",
		Retryable: true,
	}

	ErrRateLimited = &AppError{
		Code:      ErrCodeRateLimited,
		Message:   "Too many attempts",
		Retryable: true,
	}

	ErrInvalidTransaction = &AppError{
		Code:    ErrCodeInvalidTransaction,
		Message: "Invalid transaction parameters",
	}

	ErrInvalidManifest = &AppError{
		Code:    ErrCodeInvalidManifest,
		Message: "Invalid mini-app manifest",
	}

	ErrInconsistentState = &AppError{
		Code:    ErrCodeInconsistentState,
		Message: "Wallet metadata has no matching credential",
	}

	ErrUnsupportedNetwork = &AppError{
		Code:    ErrCodeUnsupportedNetwork,
		Message: "Network is not supported",
	}

	ErrUIUnavailable = &AppError{
		Code:      ErrCodeUIUnavailable,
		Message:   "User interface request failed",
		Retryable: true,
	}

	ErrInvalidEvent = &AppError{
		Code:    ErrCodeInvalidEvent,
		Message: "Invalid event name",
	}
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Detail:  detail,
	}
}

// WithDetail returns a copy of e carrying detail.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(walletID string) *AppError {
	return ErrWalletNotFound.WithDetail(fmt.Sprintf("wallet_id: %s", walletID))
}

// AuthenticationFailed wraps the gate's human-readable reason.
func AuthenticationFailed(reason string) *AppError {
	return ErrAuthenticationRequired.WithDetail(reason)
}

// Network wraps a collaborator failure as a retryable NETWORK_ERROR.
func Network(err error) *AppError {
	return ErrNetwork.WithDetail(err.Error())
}

// Storage wraps a secure-store or metadata failure as STORAGE_ERROR.
func Storage(err error) *AppError {
	return ErrStorage.WithDetail(err.Error())
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// From translates err into an AppError. AppErrors pass through unchanged;
// anything else becomes fallback with err as detail.
func From(err error, fallback *AppError) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := IsAppError(err); ok {
		return appErr
	}
	if fallback == nil {
		fallback = ErrStorage
	}
	return fallback.WithDetail(err.Error())
}

// PermissionError is returned by SDK capability methods when the calling
// mini-app did not declare the required permission. Unlike AppError it is
// never carried inside a Result.
type PermissionError struct {
	Code       string `json:"code"`
	Permission string `json:"permission"`
	MiniAppID  string `json:"mini_app_id"`
}

// NewPermissionError creates a PERMISSION_DENIED error for miniAppID.
func NewPermissionError(permission, miniAppID string) *PermissionError {
	return &PermissionError{
		Code:       ErrCodePermissionDenied,
		Permission: permission,
		MiniAppID:  miniAppID,
	}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: mini-app %q lacks permission %q", e.Code, e.MiniAppID, e.Permission)
}

// IsPermissionError checks if an error is a PermissionError
func IsPermissionError(err error) (*PermissionError, bool) {
	var permErr *PermissionError
	if errors.As(err, &permErr) {
		return permErr, true
	}
	return nil, false
}
