package dynamotest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type exprCtx struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (c exprCtx) name(tok string) string {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "#") {
		if n, ok := c.names[tok]; ok {
			return n
		}
	}
	return tok
}

func (c exprCtx) value(tok string) (types.AttributeValue, error) {
	tok = strings.TrimSpace(tok)
	v, ok := c.values[tok]
	if !ok {
		return nil, fmt.Errorf("dynamotest: undefined value %s", tok)
	}
	return v, nil
}

// operand resolves a path or a placeholder against item.
func (c exprCtx) operand(tok string, item Item) (types.AttributeValue, error) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, ":") {
		return c.value(tok)
	}
	return item[c.name(tok)], nil
}

// evalCondition evaluates a conjunction of simple predicates against item (nil when the
// item does not exist). An empty expression is always true.
func evalCondition(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	c := exprCtx{names: names, values: values}
	for _, disjunct := range splitTop(expr, " OR ") {
		ok, err := c.conjunction(disjunct, item)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (c exprCtx) conjunction(expr string, item Item) (bool, error) {
	for _, clause := range splitTop(expr, " AND ") {
		ok, err := c.predicate(strings.TrimSpace(clause), item)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c exprCtx) predicate(clause string, item Item) (bool, error) {
	if fn, args, ok := call(clause); ok {
		switch fn {
		case "attribute_exists":
			_, present := item[c.name(args[0])]
			return present, nil
		case "attribute_not_exists":
			_, present := item[c.name(args[0])]
			return !present, nil
		case "begins_with":
			if len(args) != 2 {
				return false, fmt.Errorf("dynamotest: begins_with needs 2 args")
			}
			got, _ := item[c.name(args[0])].(*types.AttributeValueMemberS)
			prefix, err := c.value(args[1])
			if err != nil {
				return false, err
			}
			p, _ := prefix.(*types.AttributeValueMemberS)
			return got != nil && p != nil && strings.HasPrefix(got.Value, p.Value), nil
		}
		return false, fmt.Errorf("dynamotest: unsupported function %s", fn)
	}

	if i := strings.Index(clause, " IN "); i > 0 {
		left := item[c.name(clause[:i])]
		list := strings.TrimSpace(clause[i+4:])
		list = strings.TrimSuffix(strings.TrimPrefix(list, "("), ")")
		for _, tok := range strings.Split(list, ",") {
			v, err := c.value(tok)
			if err != nil {
				return false, err
			}
			if cmp, ok := compare(left, v); ok && cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	for _, op := range []string{"<>", "<=", ">=", "=", "<", ">"} {
		i := strings.Index(clause, " "+op+" ")
		if i < 0 {
			continue
		}
		left, err := c.operand(clause[:i], item)
		if err != nil {
			return false, err
		}
		right, err := c.operand(clause[i+len(op)+2:], item)
		if err != nil {
			return false, err
		}
		cmp, ok := compare(left, right)
		if op == "<>" {
			return !ok || cmp != 0, nil
		}
		if !ok {
			return false, nil
		}
		switch op {
		case "=":
			return cmp == 0, nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		}
	}
	return false, fmt.Errorf("dynamotest: unsupported clause %q", clause)
}

// applyUpdate returns a new item with the SET, ADD and REMOVE actions of expr applied.
// A missing item starts from its key attributes.
func applyUpdate(expr string, old, key Item, names map[string]string, values map[string]types.AttributeValue) (Item, error) {
	next := clone(old)
	if next == nil {
		next = clone(key)
	}
	c := exprCtx{names: names, values: values}

	for _, sec := range sections(expr) {
		for _, action := range splitTop(sec.body, ",") {
			action = strings.TrimSpace(action)
			if action == "" {
				continue
			}
			switch sec.keyword {
			case "SET":
				eq := strings.Index(action, "=")
				if eq < 0 {
					return nil, fmt.Errorf("dynamotest: bad SET action %q", action)
				}
				v, err := c.setValue(strings.TrimSpace(action[eq+1:]), old)
				if err != nil {
					return nil, err
				}
				next[c.name(action[:eq])] = v
			case "ADD":
				parts := strings.Fields(action)
				if len(parts) != 2 {
					return nil, fmt.Errorf("dynamotest: bad ADD action %q", action)
				}
				delta, err := c.value(parts[1])
				if err != nil {
					return nil, err
				}
				attr := c.name(parts[0])
				sum, err := addNumbers(next[attr], delta)
				if err != nil {
					return nil, err
				}
				next[attr] = sum
			case "REMOVE":
				delete(next, c.name(action))
			}
		}
	}
	return next, nil
}

func (c exprCtx) setValue(expr string, item Item) (types.AttributeValue, error) {
	if i := strings.LastIndex(expr, " + "); i > 0 {
		a, err := c.setValue(expr[:i], item)
		if err != nil {
			return nil, err
		}
		b, err := c.setValue(expr[i+3:], item)
		if err != nil {
			return nil, err
		}
		return addNumbers(a, b)
	}
	if fn, args, ok := call(expr); ok && fn == "if_not_exists" && len(args) == 2 {
		if v, present := item[c.name(args[0])]; present {
			return v, nil
		}
		return c.value(args[1])
	}
	return c.operand(expr, item)
}

func addNumbers(a, b types.AttributeValue) (types.AttributeValue, error) {
	bn, ok := b.(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("dynamotest: ADD operand is not a number")
	}
	y, err := strconv.ParseInt(bn.Value, 10, 64)
	if err != nil {
		return nil, err
	}
	var x int64
	if a != nil {
		an, ok := a.(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("dynamotest: ADD target is not a number")
		}
		if x, err = strconv.ParseInt(an.Value, 10, 64); err != nil {
			return nil, err
		}
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(x+y, 10)}, nil
}

type section struct {
	keyword string
	body    string
}

// sections splits an update expression into its SET, ADD and REMOVE clauses.
func sections(expr string) []section {
	var out []section
	fields := strings.Fields(expr)
	var cur *section
	for _, f := range fields {
		switch strings.ToUpper(f) {
		case "SET", "ADD", "REMOVE":
			out = append(out, section{keyword: strings.ToUpper(f)})
			cur = &out[len(out)-1]
			continue
		}
		if cur != nil {
			cur.body += f + " "
		}
	}
	return out
}

// call parses fn(arg, arg).
func call(s string) (string, []string, bool) {
	open := strings.Index(s, "(")
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", nil, false
	}
	fn := strings.TrimSpace(s[:open])
	if strings.ContainsAny(fn, " =<>") {
		return "", nil, false
	}
	args := strings.Split(s[open+1:len(s)-1], ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return fn, args, true
}

// splitTop splits s on sep outside parentheses.
func splitTop(s, sep string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], sep) {
			out = append(out, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(out, s[start:])
}
