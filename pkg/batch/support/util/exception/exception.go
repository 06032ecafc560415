// Package exception provides the error types shared by the batch packages.
// Errors carry the module they originated from and flags that the skip and
// retry policies use to classify them.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// errorRegistry maps configured error names (e.g. in skippable_errors) to prototype errors.
var errorRegistry = make(map[string]error)

var registryMutex sync.RWMutex

// RegisterErrorType registers an error prototype under a name.
// Registered names can be referenced from configuration and by IsErrorOfType.
// It panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether the given error type name is registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BatchError is the error type raised by batch components.
type BatchError struct {
	// Module indicates where the error occurred (e.g., "reader", "processor", "writer", "repository").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	isRetryable bool
	isSkippable bool
	// StackTrace is the stack at creation time.
	StackTrace string
}

// NewBatchError creates a new BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a new BatchError using a format string.
// Optional trailing arguments are read from the end in the order
// [isSkippable bool], [isRetryable bool], [originalErr error]; the rest go to fmt.Sprintf.
//
//	NewBatchErrorf("writer", "insert failed for %s", "person", false, true, err)
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error returns "[module] message: cause".
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Is and errors.As.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError reports whether err is (or wraps) a BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsRetryable reports whether the outermost BatchError in err's chain is retryable.
func IsRetryable(err error) bool {
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	return false
}

// IsTemporary determines if an error is transient (connection loss, timeouts).
// The IsRetryable flag of a BatchError takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := err.(*BatchError); ok {
		return be.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset")
}

// IsErrorOfType checks whether err matches a registered error name, a Go type name
// (e.g. "*exception.ValidationError") or a substring of a message in the chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()

	if ok && errors.Is(err, targetError) {
		return true
	}

	currentErr := err
	for currentErr != nil {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}
		currentErr = errors.Unwrap(currentErr)
	}
	return false
}

// Sentinel errors of the execution model.
var (
	// ErrOptimisticLockingFailure indicates that a versioned row changed underneath an update.
	ErrOptimisticLockingFailure = errors.New("OptimisticLockingFailureException")
	// ErrInstanceAlreadyComplete is returned when a COMPLETED job instance is launched again.
	ErrInstanceAlreadyComplete = errors.New("job instance already complete")
	// ErrJobExecutionAlreadyRunning is returned when another execution of the instance is in flight.
	ErrJobExecutionAlreadyRunning = errors.New("job execution already running")
	// ErrValidation is the sentinel wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrSinkCommit is the sentinel wrapped by every SinkError.
	ErrSinkCommit = errors.New("sink commit failed")
	// ErrCommitTimeout indicates that a chunk commit exceeded the configured timeout.
	ErrCommitTimeout = errors.New("chunk commit timed out")
	// ErrJobNotRegistered is returned when launching an unknown job name.
	ErrJobNotRegistered = errors.New("job not registered")
	// ErrJobNotRunning is returned when stopping an execution that is not running.
	ErrJobNotRunning = errors.New("job execution not running")
)

// OptimisticLockingFailureException is the registry name of ErrOptimisticLockingFailure.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// NewOptimisticLockingFailureException creates a non-retryable, non-skippable optimistic locking error.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	errToWrap := ErrOptimisticLockingFailure
	if originalErr != nil {
		errToWrap = errors.Join(ErrOptimisticLockingFailure, originalErr)
	}
	return NewBatchError(module, message, errToWrap, false, false)
}

// IsOptimisticLockingFailure reports whether err indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// ValidationError describes a record rejected by a validation rule.
type ValidationError struct {
	// Field is the offending field, empty for record-level rules.
	Field string
	// Position is the stream position of the record.
	Position int64
	// Message is the rendered rule message.
	Message string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %d: %s", e.Position, e.Message)
	}
	return fmt.Sprintf("record %d: field '%s': %s", e.Position, e.Field, e.Message)
}

// Unwrap makes every ValidationError match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// SinkError describes a rejected batch commit and the stream positions it covered.
type SinkError struct {
	FirstPosition int64
	LastPosition  int64
	// RecordPosition is the offending record, or -1 when it is not determinable.
	RecordPosition int64
	Cause          error
}

// Error implements error.
func (e *SinkError) Error() string {
	if e.RecordPosition >= 0 {
		return fmt.Sprintf("sink rejected batch [%d..%d] at record %d: %v", e.FirstPosition, e.LastPosition, e.RecordPosition, e.Cause)
	}
	return fmt.Sprintf("sink rejected batch [%d..%d]: %v", e.FirstPosition, e.LastPosition, e.Cause)
}

// Unwrap returns both the sentinel and the cause.
func (e *SinkError) Unwrap() []error {
	return []error{ErrSinkCommit, e.Cause}
}

// StampPosition sets Position on every ValidationError in err (including aggregated ones)
// that does not carry one yet.
func StampPosition(err error, position int64) {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			StampPosition(e, position)
		}
		return
	}
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Position == 0 {
		ve.Position = position
	}
}

// Append aggregates errors, ignoring nils. It returns nil when nothing was appended.
func Append(err error, errs ...error) error {
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, e := range errs {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}
	return result.ErrorOrNil()
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := err.(*BatchError); ok {
		return be.Message
	}
	return err.Error()
}

// ExitDescription renders err for persistence: the full chain is kept, multierror lists are flattened.
func ExitDescription(err error) string {
	if err == nil {
		return ""
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		parts := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			parts = append(parts, e.Error())
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType("InstanceAlreadyCompleteError", ErrInstanceAlreadyComplete)
	RegisterErrorType("JobExecutionAlreadyRunningError", ErrJobExecutionAlreadyRunning)
	RegisterErrorType("ValidationError", ErrValidation)
	RegisterErrorType("SinkError", ErrSinkCommit)
	RegisterErrorType("CommitTimeoutError", ErrCommitTimeout)

	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}
