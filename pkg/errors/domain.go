package errors

var (
	// Handle registry
	ErrHandleNotFound = NotFound("handle not found")
	ErrHandleTaken    = AlreadyExists("handle is already claimed")
	ErrWalletBound    = AlreadyExists("wallet address is already bound to a handle")

	// Ownership verification
	ErrWalletMismatch = Forbidden("wallet address does not match the registered handle")

	// Consent requests
	ErrFromHandleUnknown = NotFound("from handle is not registered")
	ErrToHandleUnknown   = NotFound("to handle is not registered")
	ErrRequestNotFound   = NotFound("consent request not found")
	ErrRequestProcessed  = InvalidState("consent request already processed")
)
