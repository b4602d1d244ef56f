package intake

import "errors"

// ErrDecode marks a request that could not be decoded or is missing a
// required field. It is returned to the transport, never put in a response.
var ErrDecode = errors.New("malformed request")
