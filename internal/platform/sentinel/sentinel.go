package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into
// transport-level responses without string matching.
//
// ErrNotFound deliberately covers both "record absent" and "caller is not
// allowed to know whether the record exists" - the gate conflates the two so
// non-owners cannot probe for other users' results.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrAuditWrite = errors.New("audit write failed")
)
