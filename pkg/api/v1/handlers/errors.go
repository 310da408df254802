package handlers

// Common error messages
const (
	ErrMsgInvalidReqBody  = "Invalid request body"
	ErrMsgMissingToken    = "Missing or malformed bearer token"
	ErrMsgInvalidToken    = "Invalid API token"
	ErrMsgJobIDRequired   = "Job id is required"
	ErrMsgInvalidNetwork  = "Invalid network"
	ErrMsgInvalidStatus   = "Invalid job status"
	ErrMsgInvalidJobType  = "Invalid job type"
	ErrMsgUpgradeRequired = "WebSocket upgrade required"
)
