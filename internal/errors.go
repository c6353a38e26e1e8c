package internal

import (
	"errors"
	"fmt"
	"strings"
)

// User-facing messages. Underlying causes only ever go to the log.
const (
	MsgSourceUnavailable = "Invalid URL or the video is unavailable"
	MsgInternalError     = "An error occurred while processing the video"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrInvalidRequest ErrorType = iota
	ErrSourceUnavailable
	ErrFetchFailed
	ErrFilesystem
	ErrConfiguration
	ErrNameInUse
	ErrNotFound
	ErrCredentials
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// MediaError is the structured error used across the download lifecycle
type MediaError struct {
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *MediaError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("mediadrop error (code: %d, type: %s)", e.Code, e.Type.String()))

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " - ")
}

// Unwrap exposes the underlying cause to errors.Is and errors.As
func (e *MediaError) Unwrap() error {
	return e.Cause
}

// DetailedError returns a detailed error message with all available information
func (e *MediaError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))

	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// UserMessage returns the text that may be shown to the requester.
// Causes are never included.
func (e *MediaError) UserMessage() string {
	switch e.Type {
	case ErrSourceUnavailable:
		return MsgSourceUnavailable
	case ErrInvalidRequest, ErrNameInUse, ErrNotFound, ErrCredentials:
		return e.Message
	default:
		return MsgInternalError
	}
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrInvalidRequest:
		return "InvalidRequest"
	case ErrSourceUnavailable:
		return "SourceUnavailable"
	case ErrFetchFailed:
		return "FetchFailed"
	case ErrFilesystem:
		return "Filesystem"
	case ErrConfiguration:
		return "Configuration"
	case ErrNameInUse:
		return "NameInUse"
	case ErrNotFound:
		return "NotFound"
	case ErrCredentials:
		return "Credentials"
	default:
		return "Unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewMediaError creates a new MediaError with default severity and suggestion
func NewMediaError(code int, message string, errorType ErrorType) *MediaError {
	return &MediaError{
		Code:       code,
		Message:    message,
		Type:       errorType,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion adds a custom suggestion to the error
func (e *MediaError) WithSuggestion(suggestion string) *MediaError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *MediaError) WithURL(url string) *MediaError {
	e.URL = url
	return e
}

// WithCause attaches the underlying error
func (e *MediaError) WithCause(cause error) *MediaError {
	e.Cause = cause
	return e
}

// WithContext adds context information to the error
func (e *MediaError) WithContext(key string, value interface{}) *MediaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsCritical returns true if the error is critical and should stop execution
func (e *MediaError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func getDefaultSuggestion(errorType ErrorType) string {
	switch errorType {
	case ErrInvalidRequest:
		return "Check the submitted URL and quality values"
	case ErrSourceUnavailable:
		return "Verify the URL in a browser. Private or region-locked videos may need a cookies.txt upload"
	case ErrFetchFailed:
		return "Submit the request again. Check free disk space and that yt-dlp is up to date"
	case ErrFilesystem:
		return "Check permissions on the storage directory"
	case ErrConfiguration:
		return "Fix the configuration file, flags or MEDIADROP_* environment variables and restart"
	case ErrNameInUse:
		return "Another download with the same title is in progress. Try again shortly"
	case ErrNotFound:
		return "Download links work once. Submit the video again to get a new link"
	case ErrCredentials:
		return "Export cookies in Netscape format (cookies.txt)"
	default:
		return "Please check the error details and try again"
	}
}

func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrInvalidRequest, ErrNotFound, ErrNameInUse:
		return SeverityInfo
	case ErrSourceUnavailable, ErrFilesystem, ErrCredentials:
		return SeverityWarning
	case ErrConfiguration:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL redacts sensitive information from URLs
func redactSensitiveURL(url string) string {
	if strings.Contains(url, "?") {
		parts := strings.SplitN(url, "?", 2)
		return parts[0] + "?[REDACTED]"
	}
	return url
}

// Common error constructors

// NewSourceError reports a source that could not be extracted. Network
// failures, bot protection and empty format lists all land here.
func NewSourceError(url string, cause error) *MediaError {
	return NewMediaError(422, MsgSourceUnavailable, ErrSourceUnavailable).
		WithURL(url).
		WithCause(cause)
}

// NewFetchError reports a failed download of a selected rendition
func NewFetchError(url, formatID string, cause error) *MediaError {
	return NewMediaError(500, "Download failed", ErrFetchFailed).
		WithURL(url).
		WithCause(cause).
		WithContext("format_id", formatID)
}

// NewFilesystemError reports a storage operation that failed
func NewFilesystemError(op, path string, cause error) *MediaError {
	return NewMediaError(500, fmt.Sprintf("%s failed", op), ErrFilesystem).
		WithCause(cause).
		WithContext("path", path)
}

// NewConfigurationError reports a startup problem that prevents serving
func NewConfigurationError(message string, cause error) *MediaError {
	return NewMediaError(500, message, ErrConfiguration).WithCause(cause)
}

// NewNameInUseError reports that no free output name could be reserved
func NewNameInUseError(name string) *MediaError {
	return NewMediaError(409, fmt.Sprintf("A download named %q is already in progress", name), ErrNameInUse).
		WithContext("filename", name)
}

// NewNotFoundError reports a delivery name that is not available
func NewNotFoundError(name string) *MediaError {
	return NewMediaError(404, "File not found", ErrNotFound).
		WithContext("filename", name)
}

// NewCredentialsError reports an unusable cookie bundle
func NewCredentialsError(reason string) *MediaError {
	return NewMediaError(400, fmt.Sprintf("Invalid cookies file: %s", reason), ErrCredentials)
}

// AsMediaError extracts a *MediaError from an error chain
func AsMediaError(err error) (*MediaError, bool) {
	var mediaErr *MediaError
	if errors.As(err, &mediaErr) {
		return mediaErr, true
	}
	return nil, false
}

// IsType reports whether err carries a MediaError of the given type
func IsType(err error, errorType ErrorType) bool {
	mediaErr, ok := AsMediaError(err)
	return ok && mediaErr.Type == errorType
}
