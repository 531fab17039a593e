package attr

import "fmt"

// Update operators accepted when AllowOpers is set. The operator is
// stripped, its operand validated against the attribute's base type, and
// the result re-wrapped so the storage layer receives the intent intact.
const (
	OperAdd      = "$add"
	OperMultiply = "$multiply"
	OperAppend   = "$append"
	OperRemove   = "$remove"
	OperUnique   = "$unique"
)

var updateOpers = []string{OperAdd, OperMultiply, OperAppend, OperRemove}

// asOper reports whether a value is an update-operator map.
func asOper(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	for _, op := range updateOpers {
		if _, ok := m[op]; ok {
			return op, true
		}
	}
	return "", false
}

func validateOper(p Params, op string) (any, *Error) {
	m := p.Value.(map[string]any)
	operand := m[op]

	validated, err := validateOperand(p, op, operand)
	if err != nil {
		// The failure-policy fallback keeps the operator shape: a default
		// degrades inside the wrapper, never replaces it.
		if d, ok := staticDefault(p.Type); ok {
			return rewrap(m, op, d), nil
		}
		return nil, err
	}
	return rewrap(m, op, validated), nil
}

func validateOperand(p Params, op string, operand any) (any, *Error) {
	t := p.Type
	switch op {
	case OperAdd, OperMultiply:
		if t.Kind != KindInt && t.Kind != KindFloat {
			return nil, invalidMsgErr(p.Name, fmt.Sprintf("%s requires a numeric attribute, not %s", op, t.Kind))
		}
		return Validate(Params{Name: p.Name, Type: t, Value: operand, Ctx: p.Ctx})
	case OperAppend:
		if t.Kind != KindList {
			return nil, invalidMsgErr(p.Name, fmt.Sprintf("$append requires a list attribute, not %s", t.Kind))
		}
		return validateElem(p, argTypes(t, ArgList), operand)
	case OperRemove:
		list, ok := operand.([]any)
		if !ok {
			return nil, invalidMsgErr(p.Name, "$remove operand must be a list")
		}
		out := make([]any, len(list))
		for i, elem := range list {
			var v any
			var err *Error
			if t.Kind == KindList {
				v, err = validateElem(p, argTypes(t, ArgList), elem)
			} else {
				v, err = Validate(Params{Name: p.Name, Type: t, Value: elem, Ctx: p.Ctx})
			}
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, invalidMsgErr(p.Name, fmt.Sprintf("unknown update operator %q", op))
}

// rewrap rebuilds the operator map around a validated operand, carrying
// the $unique flag through for appends.
func rewrap(orig map[string]any, op string, operand any) map[string]any {
	out := map[string]any{op: operand}
	if op == OperAppend {
		if u, ok := orig[OperUnique]; ok {
			out[OperUnique] = u
		}
	}
	return out
}
