package errors

import (
	"fmt"
	"net/http"
)

// Not-found error codes, one per entity kind.
const (
	CodeClusterNotFound       = "CLUSTER_NOT_FOUND"
	CodeNodeNotFound          = "NODE_NOT_FOUND"
	CodeProfileNotFound       = "PROFILE_NOT_FOUND"
	CodePolicyNotFound        = "POLICY_NOT_FOUND"
	CodeActionNotFound        = "ACTION_NOT_FOUND"
	CodeClusterPolicyNotFound = "CLUSTER_POLICY_NOT_FOUND"
	CodeProfileTypeNotFound   = "PROFILE_TYPE_NOT_FOUND"
	CodePolicyTypeNotFound    = "POLICY_TYPE_NOT_FOUND"
)

// Validation and business-rule error codes.
const (
	CodeInvalidParameter     = "INVALID_PARAMETER"
	CodeSpecValidationFailed = "SPEC_VALIDATION_FAILED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotSupported         = "NOT_SUPPORTED"
	CodeProfileTypeNotMatch  = "PROFILE_TYPE_NOT_MATCH"
	CodeAmbiguousIdentity    = "AMBIGUOUS_IDENTITY"
	CodeInternal             = "INTERNAL_ERROR"
)

// MsgUnknownSortDir is the literal message for an invalid sort direction.
const MsgUnknownSortDir = "Unknown sort direction, must be 'desc' or 'asc'"

func notFoundf(code, entity, identity string) *AppError {
	return NotFound(code, fmt.Sprintf("The %s (%s) could not be found.", entity, identity)).
		WithParams(map[string]any{"identity": identity})
}

// ErrClusterNotFound creates a cluster not found error.
func ErrClusterNotFound(identity string) *AppError {
	return notFoundf(CodeClusterNotFound, "cluster", identity)
}

// ErrNodeNotFound creates a node not found error.
func ErrNodeNotFound(identity string) *AppError {
	return notFoundf(CodeNodeNotFound, "node", identity)
}

// ErrProfileNotFound creates a profile not found error.
func ErrProfileNotFound(identity string) *AppError {
	return notFoundf(CodeProfileNotFound, "profile", identity)
}

// ErrPolicyNotFound creates a policy not found error.
func ErrPolicyNotFound(identity string) *AppError {
	return notFoundf(CodePolicyNotFound, "policy", identity)
}

// ErrActionNotFound creates an action not found error.
func ErrActionNotFound(identity string) *AppError {
	return notFoundf(CodeActionNotFound, "action", identity)
}

// ErrClusterPolicyNotFound reports a missing cluster/policy binding.
func ErrClusterPolicyNotFound(clusterID, policyID string) *AppError {
	return NotFound(CodeClusterPolicyNotFound,
		fmt.Sprintf("The policy (%s) is not attached to cluster (%s).", policyID, clusterID))
}

// ErrProfileTypeNotFound creates a profile type not found error.
func ErrProfileTypeNotFound(typeName string) *AppError {
	return notFoundf(CodeProfileTypeNotFound, "profile_type", typeName)
}

// ErrPolicyTypeNotFound creates a policy type not found error.
func ErrPolicyTypeNotFound(typeName string) *AppError {
	return notFoundf(CodePolicyTypeNotFound, "policy_type", typeName)
}

// ErrInvalidParameter reports a malformed or wrong-typed field value.
func ErrInvalidParameter(name string, value any) *AppError {
	return BadRequest(CodeInvalidParameter,
		fmt.Sprintf("Invalid value '%v' specified for '%s'", value, name)).
		WithParams(map[string]any{"name": name})
}

// ErrInvalidSortDir reports a sort direction other than asc/desc.
func ErrInvalidSortDir() *AppError {
	return BadRequest(CodeInvalidParameter, MsgUnknownSortDir)
}

// ErrSpecValidationFailed reports a spec that violates its type schema.
func ErrSpecValidationFailed(err error) *AppError {
	return Wrap(err, CodeSpecValidationFailed, err.Error(), http.StatusBadRequest)
}

// ErrBadRequest reports a business-rule violation.
func ErrBadRequest(msg string) *AppError {
	return BadRequest(CodeBadRequest, "The request is malformed: "+msg)
}

// ErrNotSupported reports an operation that is invalid in the current state.
func ErrNotSupported(feature string) *AppError {
	return New(CodeNotSupported, feature+" is not supported", http.StatusConflict)
}

// ErrProfileTypeNotMatch reports a switch to an incompatible profile type.
func ErrProfileTypeNotMatch(msg string) *AppError {
	return BadRequest(CodeProfileTypeNotMatch, msg)
}

// ErrAmbiguousIdentity reports a short id or name matching several entities.
func ErrAmbiguousIdentity(entity, identity string) *AppError {
	return Conflict(CodeAmbiguousIdentity,
		fmt.Sprintf("Multiple %ss matched identity (%s).", entity, identity)).
		WithParams(map[string]any{"identity": identity})
}
