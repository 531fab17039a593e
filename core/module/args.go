package module

import (
	"context"

	"github.com/artpar/docbase/core/attr"
	"github.com/artpar/docbase/core/query"
)

// validateArgs checks the call against the method's alternative argument
// sets. The first query alternative and the first doc alternative whose
// fields all validate win; validated values are written back in converted
// form. A nil return means the call passed.
func (c *Core) validateArgs(ctx context.Context, spec *Method, method string, call *Call) *Result {
	actx := c.attrCtx(ctx, call)
	allowOpers := method == "update"

	if res := matchAlternatives(spec.QueryArgs, func(set map[string]*attr.Type) []*attr.Error {
		return tryQueryAlt(set, call.Query, actx)
	}); res != nil {
		return res
	}
	if res := matchAlternatives(spec.DocArgs, func(set map[string]*attr.Type) []*attr.Error {
		return tryDocAlt(set, call.Doc, allowOpers, actx)
	}); res != nil {
		return res
	}
	return nil
}

// matchAlternatives applies each alternative in order. When none
// succeeds the returned result enumerates every alternative's per-field
// failures, not just the first set's.
func matchAlternatives(alts []map[string]*attr.Type, try func(map[string]*attr.Type) []*attr.Error) *Result {
	if len(alts) == 0 {
		return nil
	}
	failures := make([][]*attr.Error, 0, len(alts))
	for _, set := range alts {
		errs := try(set)
		if len(errs) == 0 {
			return nil
		}
		failures = append(failures, errs)
	}
	return altErrsResult(failures)
}

// altErrsResult converts per-alternative validation failures into one
// 400 result listing each failing set. The taxonomy code reflects the
// first alternative's first failure.
func altErrsResult(failures [][]*attr.Error) *Result {
	sets := make([]any, len(failures))
	for i, errs := range failures {
		details := make([]map[string]any, len(errs))
		for j, e := range errs {
			details[j] = map[string]any{
				"code": taxonomyCode(e.Code),
				"attr": e.Attr,
				"msg":  e.Msg,
			}
		}
		sets[i] = details
	}
	lead := failures[0][0]
	return ErrResult(400, taxonomyCode(lead.Code), lead.Error(), map[string]any{
		"alternatives": sets,
	})
}

// tryQueryAlt requires every named attribute to appear in the query and
// validates equality operands in place. Range and membership operands
// keep the shapes the index already checked.
func tryQueryAlt(set map[string]*attr.Type, q *query.Query, actx *attr.Ctx) []*attr.Error {
	var errs []*attr.Error
	for name, t := range set {
		if !q.Has(name) {
			errs = append(errs, &attr.Error{Code: attr.CodeMissing, Attr: name, Msg: "required query attribute is absent"})
			continue
		}
		v := q.GetOper(name, query.OperEq)
		for i := 0; i < v.Len(); i++ {
			raw, err := v.Value(i)
			if err != nil {
				errs = append(errs, &attr.Error{Code: attr.CodeInvalid, Attr: name, Msg: err.Error()})
				continue
			}
			converted, aerr := attr.Validate(attr.Params{Name: name, Type: t, Value: raw, Ctx: actx})
			if aerr != nil {
				errs = append(errs, aerr)
				continue
			}
			if serr := v.Set(i, converted); serr != nil {
				errs = append(errs, &attr.Error{Code: attr.CodeInvalid, Attr: name, Msg: serr.Error()})
			}
		}
	}
	return errs
}

// tryDocAlt validates required doc attributes, writing converted values
// back into the doc.
func tryDocAlt(set map[string]*attr.Type, doc map[string]any, allowOpers bool, actx *attr.Ctx) []*attr.Error {
	var errs []*attr.Error
	for name, t := range set {
		raw, present := doc[name]
		if !present {
			errs = append(errs, &attr.Error{Code: attr.CodeMissing, Attr: name, Msg: "required doc attribute is absent"})
			continue
		}
		converted, aerr := attr.Validate(attr.Params{
			Name:       name,
			Type:       t,
			Value:      raw,
			AllowOpers: allowOpers,
			Ctx:        actx,
		})
		if aerr != nil {
			errs = append(errs, aerr)
			continue
		}
		doc[name] = converted
	}
	return errs
}

// attrErrsResult converts validation failures into a 400 result. The
// taxonomy code reflects the first failure; every failure is listed in
// the args.
func attrErrsResult(errs []*attr.Error) *Result {
	if len(errs) == 0 {
		return nil
	}
	details := make([]map[string]any, len(errs))
	for i, e := range errs {
		details[i] = map[string]any{
			"code": taxonomyCode(e.Code),
			"attr": e.Attr,
			"msg":  e.Msg,
		}
	}
	return ErrResult(400, taxonomyCode(errs[0].Code), errs[0].Error(), map[string]any{
		"errors": details,
	})
}

func taxonomyCode(code attr.Code) string {
	switch code {
	case attr.CodeMissing:
		return CodeMissingAttr
	case attr.CodeConvert:
		return CodeConvertAttr
	default:
		return CodeInvalidAttr
	}
}
