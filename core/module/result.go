package module

import "fmt"

// Error codes surfaced in Result.Args["code"]. Internal failures are
// caught at the pipeline level and converted to this taxonomy; raw errors
// never cross the module boundary.
const (
	CodeMissingAttr     = "missing_attr"
	CodeInvalidAttr     = "invalid_attr"
	CodeConvertAttr     = "convert_attr"
	CodeForbidden       = "forbidden"
	CodeDuplicateDoc    = "duplicate_doc"
	CodeAmbiguousUpdate = "ambiguous_update"
	CodeNotFound        = "not_found"
	CodeServerError     = "server_error"
	CodeInvalidArgs     = "invalid_args"
)

// Result is the structured outcome of every module call.
type Result struct {
	Status int            `json:"status"`
	Msg    string         `json:"msg"`
	Args   map[string]any `json:"args"`
}

// NewResult builds a success result.
func NewResult(msg string, args map[string]any) *Result {
	if args == nil {
		args = map[string]any{}
	}
	return &Result{Status: 200, Msg: msg, Args: args}
}

// ErrResult builds a failure result carrying a taxonomy code.
func ErrResult(status int, code, msg string, args map[string]any) *Result {
	if args == nil {
		args = map[string]any{}
	}
	args["code"] = code
	return &Result{Status: status, Msg: msg, Args: args}
}

// OK reports whether the result is a success.
func (r *Result) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Code returns the taxonomy code of a failure result.
func (r *Result) Code() string {
	if r == nil || r.Args == nil {
		return ""
	}
	code, _ := r.Args["code"].(string)
	return code
}

// Docs returns the result's document list.
func (r *Result) Docs() []map[string]any {
	if r == nil || r.Args == nil {
		return nil
	}
	docs, _ := r.Args["docs"].([]map[string]any)
	return docs
}

// Count returns the result's affected/returned document count.
func (r *Result) Count() int64 {
	if r == nil || r.Args == nil {
		return 0
	}
	switch n := r.Args["count"].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// Total returns the result's total matched count.
func (r *Result) Total() int64 {
	if r == nil || r.Args == nil {
		return 0
	}
	switch n := r.Args["total"].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func (r *Result) String() string {
	return fmt.Sprintf("[%d] %s %v", r.Status, r.Msg, r.Args)
}

func forbiddenResult(moduleName, method string) *Result {
	return ErrResult(403, CodeForbidden,
		fmt.Sprintf("no permission rule grants %s on %s", method, moduleName), nil)
}

func notFoundResult(msg string) *Result {
	return ErrResult(404, CodeNotFound, msg, nil)
}

// serverError converts an unexpected failure. Debug mode echoes the
// triggering error and method identity; production redacts to the
// generic code.
func (c *Core) serverError(moduleName, method string, err error) *Result {
	if c.rt.Config.Debug {
		return ErrResult(500, CodeServerError, "unexpected server error", map[string]any{
			"err":    fmt.Sprintf("%v", err),
			"method": moduleName + "." + method,
		})
	}
	return ErrResult(500, CodeServerError, "unexpected server error", nil)
}
