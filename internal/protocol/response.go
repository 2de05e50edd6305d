package protocol

// Wire response lines. get's plaintext response body has no trailing
// newline added and a miss closes with no body at all; these constants
// cover every status line the protocol can emit.
const (
	ClientErrorInvalidSyntax = "CLIENT_ERROR invalid syntax\r\n"
	ClientErrorAccessDenied  = "CLIENT_ERROR access denied\r\n"
	Stored                   = "STORED\r\n"
	NotStored                = "NOT_STORED\r\n"
	Error                    = "ERROR\r\n"
)
