package media

import "errors"

var (
	ErrPoolClosed            = errors.New("media pool closed")
	ErrRouterClosed          = errors.New("router closed")
	ErrTransportNotConnected = errors.New("transport not connected")
	ErrTransportConnected    = errors.New("transport already connected")
	ErrTransportClosed       = errors.New("transport closed")
	ErrWrongDirection        = errors.New("operation not valid for this transport direction")
	ErrProducerNotFound      = errors.New("producer not found")
	ErrCannotConsume         = errors.New("client capabilities cannot consume this producer")
	ErrNoEncodings           = errors.New("rtp parameters carry no encodings")
	ErrUnknownKind           = errors.New("unknown media kind")
)
