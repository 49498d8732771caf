package merge

import dErrors "supporterhub/pkg/domain-errors"

// Precondition failures. Each is returned before anything is written.
var (
	ErrReasonRequired        = dErrors.New(dErrors.CodeInvalidInput, "merge reason is required")
	ErrActorRequired         = dErrors.New(dErrors.CodeInvalidInput, "merge actor is required")
	ErrSelfMerge             = dErrors.New(dErrors.CodeConflict, "cannot merge a supporter into itself")
	ErrSharedEmailFlag       = dErrors.New(dErrors.CodeConflict, "a supporter is flagged shared_email; resolve the shared address before merging")
	ErrIdenticalPrimaryEmail = dErrors.New(dErrors.CodeConflict, "both supporters have the same primary email")
	ErrSharedAlias           = dErrors.New(dErrors.CodeConflict, "both supporters hold the same email alias")
)

func notFound(role string) error {
	return dErrors.New(dErrors.CodeNotFound, role+" supporter not found")
}
