package errors

import sterrors "errors"

var (
	ErrSessionRequired      = sterrors.New("traceflow: session is required")
	ErrConfigRequired       = sterrors.New("traceflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("traceflow: logger is required")
	ErrSubModelRequired     = sterrors.New("traceflow: sub-model is required")
	ErrSubModelNameRequired = sterrors.New("traceflow: sub-model name is required")
	ErrDuplicateSubModel    = sterrors.New("traceflow: sub-model name already registered")
	ErrRuleRequired         = sterrors.New("traceflow: rule is required")
	ErrRuleNameRequired     = sterrors.New("traceflow: rule name is required")
	ErrListenerRequired     = sterrors.New("traceflow: hint listener is required")
	ErrListenerNameRequired = sterrors.New("traceflow: hint listener name is required")
	ErrRecordRequired       = sterrors.New("traceflow: event record is required")
	ErrPublisherRequired    = sterrors.New("traceflow: publisher is required")
	ErrTopicRequired        = sterrors.New("traceflow: topic is required")
	ErrProviderRequired     = sterrors.New("traceflow: resource snapshot provider is required")
	ErrSessionClosed        = sterrors.New("traceflow: session is closed")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "traceflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err in a ConfigValidationError.
// Returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
