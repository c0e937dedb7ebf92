package domain

// CallbackError is the error object a callback payload may carry in place of
// a result. Code and message come from the remote party and are recorded
// verbatim.
type CallbackError struct {
	Code    string
	Message string
}
