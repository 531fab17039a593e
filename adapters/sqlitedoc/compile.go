package sqlitedoc

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/artpar/docbase/core/query"
	"github.com/artpar/docbase/pkg/oid"
)

// compileWhere lowers a structured query into one SQL predicate over the
// JSON document column, with placeholder bindings. The implicit
// not-soft-deleted filter applies unless the $deleted special overrides
// it.
func compileWhere(q *query.Query) (string, []any, error) {
	conds := []string{}
	var binds []any

	if !deletedRequested(q) {
		conds = append(conds, "deleted = 0")
	}
	if q != nil {
		clause, stepBinds, err := compileSteps(q.Steps())
		if err != nil {
			return "", nil, err
		}
		if clause != "" {
			conds = append(conds, clause)
			binds = append(binds, stepBinds...)
		}
		if needle, ok := searchRequested(q); ok {
			conds = append(conds, "LOWER(doc) LIKE ?")
			binds = append(binds, "%"+strings.ToLower(needle)+"%")
		}
	}
	if len(conds) == 0 {
		return "1 = 1", binds, nil
	}
	return strings.Join(conds, " AND "), binds, nil
}

func compileSteps(steps []any) (string, []any, error) {
	var conds []string
	var binds []any
	for _, raw := range steps {
		switch step := raw.(type) {
		case map[string]any:
			clause, b, err := compileStep(step)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, clause)
			binds = append(binds, b...)
		case []any:
			clause, b, err := compileOr(step)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, clause)
			binds = append(binds, b...)
		default:
			return "", nil, fmt.Errorf("sqlitedoc: invalid step type %T", raw)
		}
	}
	return strings.Join(conds, " AND "), binds, nil
}

func compileStep(step map[string]any) (string, []any, error) {
	var conds []string
	var binds []any
	for attr, raw := range step {
		if strings.HasPrefix(attr, "__or") {
			group, ok := raw.([]any)
			if !ok {
				return "", nil, fmt.Errorf("sqlitedoc: %q group must be a list", attr)
			}
			clause, b, err := compileOr(group)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, clause)
			binds = append(binds, b...)
			continue
		}
		clause, b, err := compileLeaf(attr, raw)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, clause)
		binds = append(binds, b...)
	}
	return "(" + strings.Join(conds, " AND ") + ")", binds, nil
}

func compileOr(group []any) (string, []any, error) {
	var alts []string
	var binds []any
	for _, raw := range group {
		switch alt := raw.(type) {
		case map[string]any:
			clause, b, err := compileStep(alt)
			if err != nil {
				return "", nil, err
			}
			alts = append(alts, clause)
			binds = append(binds, b...)
		case []any:
			clause, b, err := compileSteps(alt)
			if err != nil {
				return "", nil, err
			}
			alts = append(alts, "("+clause+")")
			binds = append(binds, b...)
		default:
			return "", nil, fmt.Errorf("sqlitedoc: invalid OR member type %T", raw)
		}
	}
	return "(" + strings.Join(alts, " OR ") + ")", binds, nil
}

func compileLeaf(attr string, raw any) (string, []any, error) {
	oper := query.OperEq
	operand := raw
	if m, ok := raw.(map[string]any); ok && len(m) == 1 {
		for k, v := range m {
			if strings.HasPrefix(k, "$") {
				oper, operand = k, v
			}
		}
	}
	expr, err := fieldExpr(attr)
	if err != nil {
		return "", nil, err
	}
	switch oper {
	case query.OperEq:
		return expr + " = ?", []any{bindValue(operand)}, nil
	case query.OperNe:
		return "(" + expr + " IS NULL OR " + expr + " != ?)", []any{bindValue(operand)}, nil
	case query.OperGt:
		return expr + " > ?", []any{bindValue(operand)}, nil
	case query.OperGte:
		return expr + " >= ?", []any{bindValue(operand)}, nil
	case query.OperLt:
		return expr + " < ?", []any{bindValue(operand)}, nil
	case query.OperLte:
		return expr + " <= ?", []any{bindValue(operand)}, nil
	case query.OperBet:
		pair, ok := operand.([]any)
		if !ok || len(pair) != 2 {
			return "", nil, fmt.Errorf("sqlitedoc: $bet needs a 2-element pair")
		}
		return "(" + expr + " >= ? AND " + expr + " < ?)",
			[]any{bindValue(pair[0]), bindValue(pair[1])}, nil
	case query.OperIn, query.OperNin:
		list, ok := operand.([]any)
		if !ok || len(list) == 0 {
			return "", nil, fmt.Errorf("sqlitedoc: %s needs a non-empty list", oper)
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(list)), ", ")
		binds := make([]any, len(list))
		for i, item := range list {
			binds[i] = bindValue(item)
		}
		if oper == query.OperIn {
			return expr + " IN (" + marks + ")", binds, nil
		}
		return "(" + expr + " IS NULL OR " + expr + " NOT IN (" + marks + "))", binds, nil
	case query.OperAll:
		list, ok := operand.([]any)
		if !ok || len(list) == 0 {
			return "", nil, fmt.Errorf("sqlitedoc: $all needs a non-empty list")
		}
		var conds []string
		binds := make([]any, len(list))
		for i, item := range list {
			conds = append(conds,
				"EXISTS (SELECT 1 FROM json_each("+expr+") WHERE json_each.value = ?)")
			binds[i] = bindValue(item)
		}
		return "(" + strings.Join(conds, " AND ") + ")", binds, nil
	case query.OperRegex:
		pattern, ok := operand.(string)
		if !ok {
			return "", nil, fmt.Errorf("sqlitedoc: $regex needs a string")
		}
		return expr + " REGEXP ?", []any{pattern}, nil
	default:
		return "", nil, fmt.Errorf("sqlitedoc: unknown operator %q", oper)
	}
}

// identPattern bounds the attribute names reaching SQL text. Names come
// from caller queries, so anything that could escape the JSON-path
// literal is rejected instead of interpolated.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// fieldExpr maps an attribute to its SQL expression. _id is its own
// column; everything else extracts from the JSON document.
func fieldExpr(attr string) (string, error) {
	if attr == "_id" {
		return "id", nil
	}
	if !identPattern.MatchString(attr) {
		return "", fmt.Errorf("sqlitedoc: attribute name %q is not a plain identifier", attr)
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", attr), nil
}

// bindValue converts a query operand to its SQL form.
func bindValue(v any) any {
	switch val := v.(type) {
	case oid.ID:
		return val.Hex()
	case time.Time:
		return val.Format("2006-01-02T15:04:05")
	default:
		return v
	}
}

func deletedRequested(q *query.Query) bool {
	if q == nil {
		return false
	}
	v, ok := q.Special(query.SpecialDeleted)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func searchRequested(q *query.Query) (string, bool) {
	v, ok := q.Special(query.SpecialSearch)
	if !ok {
		return "", false
	}
	needle, ok := v.(string)
	return needle, ok && needle != ""
}

func orderClause(q *query.Query) (string, error) {
	if q == nil {
		return "", nil
	}
	raw, ok := q.Special(query.SpecialSort)
	if !ok {
		return "", nil
	}
	var fields []string
	switch val := raw.(type) {
	case string:
		fields = []string{val}
	case []string:
		fields = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				fields = append(fields, s)
			}
		}
	}
	if len(fields) == 0 {
		return "", nil
	}
	var orders []string
	for _, field := range fields {
		dir := " ASC"
		if strings.HasPrefix(field, "-") {
			field = field[1:]
			dir = " DESC"
		}
		expr, err := fieldExpr(field)
		if err != nil {
			return "", err
		}
		orders = append(orders, expr+dir)
	}
	return " ORDER BY " + strings.Join(orders, ", "), nil
}

func pageClause(q *query.Query) string {
	if q == nil {
		return ""
	}
	limit := intSpecial(q, query.SpecialLimit, -1)
	skip := intSpecial(q, query.SpecialSkip, 0)
	if limit < 0 && skip == 0 {
		return ""
	}
	if limit < 0 {
		limit = -1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, skip)
}

func intSpecial(q *query.Query, name string, fallback int) int {
	v, ok := q.Special(name)
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
