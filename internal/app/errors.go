package app

// CodedError carries a stable error code alongside the user-facing message,
// surfaced in the JSON result handed to the invoking runtime.
//
// Codes in use: invalid_params, network_error, http_status,
// malformed_response, not_found, io_error, decoder_failed.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }
