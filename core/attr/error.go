package attr

import "fmt"

// Code discriminates validation failures: a required value was absent, a
// present value had the wrong shape or range, or a value of the right
// shape family could not be coerced losslessly.
type Code string

const (
	CodeMissing Code = "missing"
	CodeInvalid Code = "invalid"
	CodeConvert Code = "convert"
)

// Error is the discriminated validation failure returned by Validate. It
// never crosses the package boundary as a panic.
type Error struct {
	Code Code
	Attr string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s attr %q: %s", e.Code, e.Attr, e.Msg)
}

func missingErr(name string) *Error {
	return &Error{Code: CodeMissing, Attr: name, Msg: "required value is absent"}
}

func invalidErr(name string, t *Type, value any) *Error {
	return &Error{
		Code: CodeInvalid,
		Attr: name,
		Msg:  fmt.Sprintf("value of type %T is not a valid %s", value, t.Kind),
	}
}

func invalidMsgErr(name, msg string) *Error {
	return &Error{Code: CodeInvalid, Attr: name, Msg: msg}
}

func convertErr(name, msg string) *Error {
	return &Error{Code: CodeConvert, Attr: name, Msg: msg}
}
