package voice

import "errors"

var (
	ErrClientNotFound   = errors.New("voice client not found")
	ErrBadCredentials   = errors.New("voice credentials do not match")
	ErrAlreadyConnected = errors.New("voice event socket already connected")
	ErrClientClosed     = errors.New("voice client closed")
	ErrTransportExists  = errors.New("transport already created for this direction")
	ErrTransportMissing = errors.New("transport has not been created")
	ErrShutdown         = errors.New("voice service shut down")
)
