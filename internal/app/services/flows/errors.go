package flows

import "errors"

var (
	// ErrTokenMissing reports a non-ping action that arrived without a flow
	// token. Distinct from an invalid token: the replies differ.
	ErrTokenMissing = errors.New("missing flow token")

	// ErrInvalidHandlerData marks handler failures caused by caller-supplied
	// data, so the gateway can answer 422 instead of 500. Handlers wrap it.
	ErrInvalidHandlerData = errors.New("invalid handler data")
)
