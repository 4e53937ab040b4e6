package consts

const (
	AppName = "DLNABridge"
	Version = "1.0.0"

	// DefaultHTTPPort is the port the DLNA HTTP endpoints bind to when not configured
	DefaultHTTPPort = 8200

	// DefaultDbPath is the default location of the profile database
	DefaultDbPath = "dlnabridge.db"
)
