// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used within the queue and session handlers.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided auth token was invalid or expired.
	InvalidUserIDError    = 3002 // User ID derived from token was malformed or invalid.
	InvalidSessionIDError = 3003 // Target session ID in the WS URL does not exist or is invalid.
	QueueRejectedError    = 3004 // Join was refused: already queued or already in a session.
	QueueCancelledError   = 3005 // The queue entry was cancelled before a match was found.
)
