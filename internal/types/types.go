// Package types defines the shared error taxonomy and language pair
// validation for the PDF translator service.
package types

import (
	"errors"
	"strings"

	"golang.org/x/text/language"
)

// ErrorCode classifies a failure for status reporting and retry decisions.
type ErrorCode string

const (
	// ErrUnsupportedDocument marks encrypted, zero-page or over-limit PDFs.
	// Fatal, never retried, never debited.
	ErrUnsupportedDocument ErrorCode = "UNSUPPORTED_DOCUMENT"
	// ErrInsufficientCredits marks a job rejected before any debit.
	ErrInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	// ErrProvider marks a non-transient OCR/translation provider failure.
	ErrProvider ErrorCode = "PROVIDER_ERROR"
	// ErrProviderTransient marks a provider failure eligible for retry
	// (timeout, rate limit, 5xx).
	ErrProviderTransient ErrorCode = "PROVIDER_TRANSIENT"
	// ErrOCRFailed marks a page whose OCR produced no usable spans.
	// Per-page, non-fatal; the job completes with a warning.
	ErrOCRFailed ErrorCode = "OCR_FAILED"
	// ErrTranslationFailed marks translation failure. Per-block it is a
	// warning; when every batch fails it is fatal for the job.
	ErrTranslationFailed ErrorCode = "TRANSLATION_FAILED"
	// ErrReconstruction marks a failure assembling the output PDF.
	// Fatal and non-retryable for the job.
	ErrReconstruction ErrorCode = "RECONSTRUCTION_ERROR"
	// ErrExpired marks a job whose artifact passed its retention window.
	ErrExpired ErrorCode = "EXPIRED"

	// ErrConfig marks invalid or missing configuration.
	ErrConfig ErrorCode = "CONFIG_ERROR"
	// ErrStorage marks artifact storage failures.
	ErrStorage ErrorCode = "STORAGE_ERROR"
	// ErrNotFound marks a missing job or artifact.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrInternal marks unexpected internal failures.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is the application error type carrying a code for status
// reporting and an optional cause for unwrapping.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// CodeOf returns the ErrorCode carried by err, or ErrInternal when err is
// not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsTransient reports whether err represents a transient provider failure
// that the retry policy may attempt again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if CodeOf(err) == ErrProviderTransient {
		return true
	}
	// Plain network errors surface without a code.
	msg := err.Error()
	for _, marker := range []string{"connection", "timeout", "deadline exceeded", "EOF", "reset by peer"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsFatalForJob reports whether err must move the whole job to Failed.
// Per-page and per-block degradations are handled inside their stages and
// never carry these codes out of the stage.
func IsFatalForJob(err error) bool {
	switch CodeOf(err) {
	case ErrUnsupportedDocument, ErrInsufficientCredits, ErrReconstruction,
		ErrTranslationFailed, ErrProvider, ErrConfig, ErrStorage, ErrInternal:
		return true
	default:
		return false
	}
}

// LangPair is a validated source/target language pair.
type LangPair struct {
	Source string `json:"source_lang"`
	Target string `json:"target_lang"`
}

// supported directions, Turkish and English only
var supportedPairs = map[[2]string]bool{
	{"tr", "en"}: true,
	{"en", "tr"}: true,
}

// ParseLangPair canonicalizes and validates a source/target language pair.
// Only tr->en and en->tr are supported.
func ParseLangPair(source, target string) (LangPair, error) {
	src, err := canonicalLang(source)
	if err != nil {
		return LangPair{}, err
	}
	tgt, err := canonicalLang(target)
	if err != nil {
		return LangPair{}, err
	}
	if !supportedPairs[[2]string{src, tgt}] {
		return LangPair{}, NewAppErrorWithDetails(ErrUnsupportedDocument,
			"unsupported language pair", src+" -> "+tgt, nil)
	}
	return LangPair{Source: src, Target: tgt}, nil
}

func canonicalLang(code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", NewAppErrorWithDetails(ErrUnsupportedDocument, "invalid language code", code, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// Name returns the English display name used in translation prompts.
func (p LangPair) name(code string) string {
	switch code {
	case "tr":
		return "Turkish"
	case "en":
		return "English"
	default:
		return code
	}
}

// SourceName returns the display name of the source language.
func (p LangPair) SourceName() string { return p.name(p.Source) }

// TargetName returns the display name of the target language.
func (p LangPair) TargetName() string { return p.name(p.Target) }
