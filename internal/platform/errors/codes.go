// Package errors provides structured error handling for the observation core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionInvalidStatusTransition Code = "SESSION_INVALID_STATUS_TRANSITION"
	CodeSessionIncomplete              Code = "SESSION_INCOMPLETE"
	CodeSessionLocked                  Code = "SESSION_LOCKED"
	CodeSessionDeleteDisallowed        Code = "SESSION_DELETE_DISALLOWED"

	// Response errors
	CodeResponseInvalid Code = "RESPONSE_INVALID"

	// Actor errors
	CodeActorUnauthorized Code = "ACTOR_UNAUTHORIZED"

	// Approval errors
	CodeApprovalForbidden      Code = "APPROVAL_FORBIDDEN"
	CodeApprovalInvalidRequest Code = "APPROVAL_INVALID_REQUEST"
	CodeApprovalSessionState   Code = "APPROVAL_SESSION_STATE_DISALLOWS_OPERATION"

	// Catalog errors
	CodeCatalogInvalid Code = "CATALOG_INVALID"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)

// GRPCCode maps domain codes to gRPC status codes for the transport boundary.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeResponseInvalid,
		CodeApprovalInvalidRequest,
		CodeCatalogInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeSessionInvalidStatusTransition,
		CodeSessionIncomplete,
		CodeSessionLocked,
		CodeSessionDeleteDisallowed,
		CodeApprovalSessionState:
		return codes.FailedPrecondition

	// PermissionDenied - actor lacks the required role
	case CodeActorUnauthorized,
		CodeApprovalForbidden:
		return codes.PermissionDenied

	case CodeNotFound:
		return codes.NotFound

	case CodeAlreadyExists:
		return codes.AlreadyExists

	default:
		return codes.Internal
	}
}
