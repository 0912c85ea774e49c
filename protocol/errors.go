package protocol

import (
	"errors"
	"strconv"
)

// ErrEmptyResponse is returned when the server closes without sending anything.
var ErrEmptyResponse = errors.New("irbis: empty response")

// Error is a negative return code reported by the server.
type Error struct {
	Code int
}

func (e *Error) Error() string {
	return "irbis: " + Describe(e.Code) + " (" + strconv.Itoa(e.Code) + ")"
}

// IsCode reports whether err is a server error with the given code.
func IsCode(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// ParseError represents a response the client could not parse.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "irbis: parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "irbis: parse error: " + e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var descriptions = map[int]string{
	-100:  "MFN outside database range",
	-101:  "wrong shelf size",
	-102:  "wrong shelf number",
	-140:  "MFN outside database range",
	-141:  "read error",
	-200:  "field is absent",
	-201:  "previous version of the record is absent",
	-202:  "term not found",
	-203:  "last term in the list",
	-204:  "first term in the list",
	-300:  "database is locked",
	-301:  "database is locked",
	-400:  "error opening MST or XRF file",
	-401:  "error opening IFP file",
	-402:  "write error",
	-403:  "actualization error",
	-600:  "record is logically deleted",
	-601:  "record is physically deleted",
	-602:  "record is locked",
	-603:  "record is logically deleted",
	-605:  "record is physically deleted",
	-607:  "autoin.gbl error",
	-608:  "record version mismatch",
	-700:  "backup creation error",
	-701:  "backup restore error",
	-702:  "sort error",
	-703:  "wrong term",
	-704:  "dictionary creation error",
	-705:  "dictionary load error",
	-800:  "global correction parameter error",
	-801:  "global correction REP error",
	-802:  "global correction MET error",
	-1111: "server execution error",
	-2222: "protocol error",
	-3333: "client not registered",
	-3334: "client not logged in",
	-3335: "wrong client identifier",
	-3336: "workstation has no access to the command",
	-3337: "client already registered",
	-3338: "client not allowed",
	-4444: "wrong password",
	-5555: "file does not exist",
	-6666: "server overloaded",
	-7777: "cannot start or stop administrator thread",
	-8888: "general error",
}

// Describe returns a human readable description of a return code.
func Describe(code int) string {
	if code >= 0 {
		return "no error"
	}
	if d, ok := descriptions[code]; ok {
		return d
	}
	return "unknown error"
}
