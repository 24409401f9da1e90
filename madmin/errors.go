package madmin

import "errors"

var (
	// ErrNoPendingChanges is returned by Commit when no change has
	// been proposed since the last commit or rollback.
	ErrNoPendingChanges = errors.New("no pending changes to commit")

	// ErrValidationFailed indicates a payload that parsed correctly
	// but describes an inadmissible change.
	ErrValidationFailed = errors.New("validation failed")

	// ErrUnknownAction indicates a payload whose action the
	// coordinator does not handle.
	ErrUnknownAction = errors.New("unknown payload action")

	// ErrInvalidMessageFormat indicates payload bytes that could not
	// be decoded.
	ErrInvalidMessageFormat = errors.New("invalid message format")

	// ErrUndefinedSigner indicates a payload that cannot be
	// attributed to a signer: the requester key is missing or no
	// signature verifier is configured.
	ErrUndefinedSigner = errors.New("undefined payload signer")

	// ErrInvalidSignature indicates a payload whose signature does
	// not verify against the requester key.
	ErrInvalidSignature = errors.New("invalid payload signature")

	// ErrUnknownProposal indicates a consensus operation on a
	// proposal the coordinator is not tracking.
	ErrUnknownProposal = errors.New("unknown proposal")
)
