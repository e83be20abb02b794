package jsonrpc

// Constructors for the standard and server-scoped error codes listed in
// SPEC_FULL §4.5. Kept as free functions, mirroring the teacher's error.go,
// rather than methods, since callers build errors before a Response exists.

func NewParseError(err error) *Error {
	return NewError(ParseError, err.Error(), nil)
}

func NewInvalidRequest(message string) *Error {
	return NewError(InvalidRequest, message, nil)
}

func NewMethodNotFound(method string) *Error {
	return NewError(MethodNotFound, "method not found: "+method, nil)
}

func NewInvalidParams(message string) *Error {
	return NewError(InvalidParams, message, nil)
}

func NewInternalError(err error) *Error {
	return NewError(InternalError, err.Error(), nil)
}

func NewNotInitialized() *Error {
	return NewError(NotInitialized, "server not initialized", nil)
}

func NewAlreadyInitialized() *Error {
	return NewError(AlreadyInitialized, "server already initialized", nil)
}

func NewUnsupportedProtocolVersion(version string) *Error {
	return NewError(UnsupportedProtocolVer, "Unsupported protocol version: "+version, nil)
}

func NewToolNotFound(name string) *Error {
	return NewError(ToolNotFound, "tool not found: "+name, nil)
}

func NewToolExecutionFailed(message string) *Error {
	return NewError(ToolExecutionFailed, message, nil)
}

func NewCancelled(reason string) *Error {
	return NewError(Cancelled, reason, nil)
}
