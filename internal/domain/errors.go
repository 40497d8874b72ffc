package domain

import (
	"errors"
	"fmt"
)

var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrInvalidTransition    = errors.New("invalid workflow status transition")
	ErrInvalidDecision      = errors.New("invalid approval decision")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrExpired              = errors.New("workflow execution time expired")
	ErrClosed               = errors.New("closed")
	ErrNotStarted           = errors.New("manager not started")
	ErrAlreadyStarted       = errors.New("manager already started")
	ErrCompensationNotFound = errors.New("compensation record not found")
	ErrCompensationSettled  = errors.New("compensation record already settled")
	ErrCapabilityNotFound   = errors.New("capability not found")
	ErrUnknownIntent        = errors.New("unknown compensation action")
	ErrNoPendingApproval    = errors.New("no pending approval")
	ErrCircuitOpen          = errors.New("capability runtime circuit open")
)

// WorkflowError ties a failure to the component, operation and workflow
// (and optionally step) it happened in.
type WorkflowError struct {
	Component  string
	Op         string
	WorkflowID string
	Step       string
	Err        error
}

func (e *WorkflowError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s[%s] %s step %s: %v", e.Component, e.WorkflowID, e.Op, e.Step, e.Err)
	}
	return fmt.Sprintf("%s[%s] %s: %v", e.Component, e.WorkflowID, e.Op, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func NewWorkflowError(component, op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Component:  component,
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

func NewStepError(component, op, workflowID, step string, err error) *WorkflowError {
	return &WorkflowError{
		Component:  component,
		Op:         op,
		WorkflowID: workflowID,
		Step:       step,
		Err:        err,
	}
}

type SpecError struct {
	Field  string
	Reason string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid workflow spec: %s: %s", e.Field, e.Reason)
}

func (e *SpecError) Unwrap() error {
	return ErrInvalidInput
}

func NewSpecError(field, reason string) *SpecError {
	return &SpecError{Field: field, Reason: reason}
}

type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

// PanicError carries a recovered capability panic back as an ordinary
// step failure.
type PanicError struct {
	CapabilityID string
	Value        interface{}
	Stack        []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("capability %s panicked: %v", e.CapabilityID, e.Value)
}

// InvalidTransitionError reports the attempted from/to pair.
func InvalidTransitionError(from, to WorkflowStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrCompensationNotFound)
}

func IsSpecError(err error) bool {
	var specErr *SpecError
	return errors.As(err, &specErr)
}

func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

func IsPanic(err error) bool {
	var panicErr *PanicError
	return errors.As(err, &panicErr)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

func IsExpired(err error) bool {
	return errors.Is(err, ErrExpired)
}
