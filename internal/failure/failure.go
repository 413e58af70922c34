// Package failure defines the error taxonomy shared by the ingestion,
// triage and escalation pipeline. Each kind degrades exactly one item's
// progress; none of them is fatal to a batch or a sweep.
package failure

import (
	"errors"
	"fmt"
)

// ConnectivityError indicates the mailbox or the analysis provider was
// unreachable, timed out, or rejected our credentials. It is transient and
// retried by the next scheduled tick, never internally.
type ConnectivityError struct {
	Op   string
	Auth bool
	Err  error
}

func (e *ConnectivityError) Error() string {
	if e.Auth {
		return fmt.Sprintf("connectivity (auth) during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connectivity during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Connectivity wraps err as a ConnectivityError. A nil err stays nil.
func Connectivity(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectivityError{Op: op, Err: err}
}

// Auth wraps err as a ConnectivityError caused by rejected credentials.
func Auth(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectivityError{Op: op, Auth: true, Err: err}
}

// IsConnectivity reports whether err (or any error in its chain) is a
// ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsAuth reports whether err is a ConnectivityError caused by credentials.
func IsAuth(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce) && ce.Auth
}

// MalformedResponseError indicates the analysis provider answered with
// output we could not parse or validate.
type MalformedResponseError struct {
	Reason string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return "malformed analysis response: " + e.Reason
}

// IsMalformed reports whether err is a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// DataIntegrityError indicates directory data that breaks a hierarchy
// invariant, such as an Employee without a manager.
type DataIntegrityError struct {
	Entity string
	ID     string
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %s: %s", e.Entity, e.ID, e.Reason)
}

// IsDataIntegrity reports whether err is a DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var de *DataIntegrityError
	return errors.As(err, &de)
}

// PersistenceError indicates a store write failed for a single item.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
