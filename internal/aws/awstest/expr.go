package awstest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// exprContext resolves #name and :value placeholders of one request.
type exprContext struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (c exprContext) name(tok string) string {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "#") {
		if n, ok := c.names[tok]; ok {
			return n
		}
	}
	return tok
}

func (c exprContext) value(tok string) (types.AttributeValue, error) {
	tok = strings.TrimSpace(tok)
	v, ok := c.values[tok]
	if !ok {
		return nil, fmt.Errorf("awstest: undefined expression value %s", tok)
	}
	return v, nil
}

// operand evaluates ":v", "path" or "if_not_exists(path, :v)" against item.
func (c exprContext) operand(item map[string]types.AttributeValue, tok string) (types.AttributeValue, error) {
	tok = strings.TrimSpace(tok)
	switch {
	case strings.HasPrefix(tok, ":"):
		return c.value(tok)
	case strings.HasPrefix(tok, "if_not_exists(") && strings.HasSuffix(tok, ")"):
		args := splitTopLevel(tok[len("if_not_exists("):len(tok)-1], ',')
		if len(args) != 2 {
			return nil, fmt.Errorf("awstest: bad if_not_exists %q", tok)
		}
		if cur, ok := item[c.name(args[0])]; ok {
			return cur, nil
		}
		return c.operand(item, args[1])
	default:
		cur, ok := item[c.name(tok)]
		if !ok {
			return nil, fmt.Errorf("awstest: attribute %s not present", c.name(tok))
		}
		return cur, nil
	}
}

// evalCondition supports OR of ANDs over attribute_exists, attribute_not_exists
// and binary comparisons. An empty expression is true.
func (c exprContext) evalCondition(item map[string]types.AttributeValue, expr string) (bool, error) {
	expr = trimParens(strings.TrimSpace(expr))
	if expr == "" {
		return true, nil
	}
	for _, disj := range splitKeyword(expr, " OR ") {
		all := true
		for _, atom := range splitKeyword(disj, " AND ") {
			ok, err := c.evalAtom(item, trimParens(strings.TrimSpace(atom)))
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

var comparison = regexp.MustCompile(`^(\S+)\s*(<>|<=|>=|=|<|>)\s*(\S+)$`)

func (c exprContext) evalAtom(item map[string]types.AttributeValue, atom string) (bool, error) {
	switch {
	case strings.HasPrefix(atom, "attribute_exists("):
		_, ok := item[c.name(atom[len("attribute_exists("):len(atom)-1])]
		return ok, nil
	case strings.HasPrefix(atom, "attribute_not_exists("):
		_, ok := item[c.name(atom[len("attribute_not_exists("):len(atom)-1])]
		return !ok, nil
	}
	m := comparison.FindStringSubmatch(atom)
	if m == nil {
		return false, fmt.Errorf("awstest: unsupported condition %q", atom)
	}
	left, err := c.operand(item, m[1])
	if err != nil {
		// comparisons against a missing attribute are false
		return false, nil
	}
	right, err := c.operand(item, m[3])
	if err != nil {
		return false, nil
	}
	cmp, err := compare(left, right)
	if err != nil {
		return false, err
	}
	switch m[2] {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

var updateSection = regexp.MustCompile(`(?:^|\s)(SET|ADD|REMOVE)\s`)

// applyUpdate applies SET, ADD and REMOVE clauses to item in place.
func (c exprContext) applyUpdate(item map[string]types.AttributeValue, expr string) error {
	idx := updateSection.FindAllStringSubmatchIndex(expr, -1)
	if len(idx) == 0 {
		return fmt.Errorf("awstest: unsupported update %q", expr)
	}
	for i, loc := range idx {
		end := len(expr)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		keyword := expr[loc[2]:loc[3]]
		body := expr[loc[1]:end]
		for _, clause := range splitTopLevel(body, ',') {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			var err error
			switch keyword {
			case "SET":
				err = c.applySet(item, clause)
			case "ADD":
				err = c.applyAdd(item, clause)
			case "REMOVE":
				delete(item, c.name(clause))
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (c exprContext) applySet(item map[string]types.AttributeValue, clause string) error {
	parts := strings.SplitN(clause, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("awstest: bad SET clause %q", clause)
	}
	path := c.name(parts[0])
	rhs := strings.TrimSpace(parts[1])

	terms := splitTopLevel(rhs, '+')
	sign := decimal.NewFromInt(1)
	if len(terms) == 1 {
		terms = splitTopLevel(rhs, '-')
		sign = decimal.NewFromInt(-1)
	}
	if len(terms) == 1 {
		v, err := c.operand(item, terms[0])
		if err != nil {
			return err
		}
		item[path] = v
		return nil
	}
	if len(terms) != 2 {
		return fmt.Errorf("awstest: bad SET arithmetic %q", clause)
	}
	a, err := c.operand(item, terms[0])
	if err != nil {
		return err
	}
	b, err := c.operand(item, terms[1])
	if err != nil {
		return err
	}
	da, err := number(a)
	if err != nil {
		return err
	}
	db, err := number(b)
	if err != nil {
		return err
	}
	item[path] = &types.AttributeValueMemberN{Value: da.Add(db.Mul(sign)).String()}
	return nil
}

func (c exprContext) applyAdd(item map[string]types.AttributeValue, clause string) error {
	fields := strings.Fields(clause)
	if len(fields) != 2 {
		return fmt.Errorf("awstest: bad ADD clause %q", clause)
	}
	path := c.name(fields[0])
	delta, err := c.value(fields[1])
	if err != nil {
		return err
	}
	d, err := number(delta)
	if err != nil {
		return err
	}
	cur := decimal.Zero
	if existing, ok := item[path]; ok {
		if cur, err = number(existing); err != nil {
			return err
		}
	}
	item[path] = &types.AttributeValueMemberN{Value: cur.Add(d).String()}
	return nil
}

func number(v types.AttributeValue) (decimal.Decimal, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, fmt.Errorf("awstest: %T is not a number", v)
	}
	return decimal.NewFromString(n.Value)
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		da, err := number(av)
		if err != nil {
			return 0, err
		}
		db, err := number(b)
		if err != nil {
			return 0, err
		}
		return da.Cmp(db), nil
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, fmt.Errorf("awstest: cannot compare S with %T", b)
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("awstest: unsupported comparison of %T", a)
}

// splitTopLevel splits s on sep outside parentheses.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// splitKeyword splits s on a keyword outside parentheses.
func splitKeyword(s, kw string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(s[i:], kw) {
				out = append(out, s[start:i])
				start = i + len(kw)
				i += len(kw) - 1
			}
		}
	}
	return append(out, s[start:])
}

func trimParens(s string) string {
	for len(s) > 1 && s[0] == '(' && s[len(s)-1] == ')' && balanced(s[1:len(s)-1]) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
