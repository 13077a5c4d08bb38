// Package odata reads the OData system query options understood by the
// development list server and applies them to entities.
package odata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Entity is a single result row, keyed by field name.
type Entity = map[string]interface{}

// Filter is a parsed $filter expression.
type Filter struct {
	root node
	text string
}

// Match returns whether e satisfies f. The zero Filter matches everything.
func (f Filter) Match(e Entity) bool {
	if f.root == nil {
		return true
	}
	v, _ := f.root.eval(e).(bool)
	return v
}

func (f Filter) String() string {
	return f.text
}

// ParseFilter parses the text of a $filter option. Supported are the
// comparison operators eq, ne, gt, ge, lt and le, the logical operators and,
// or and not, parentheses, and the functions startswith, endswith and
// substringof. Literals are single-quoted strings, numbers, true, false,
// null, and datetime'...' values.
func ParseFilter(text string) (Filter, error) {
	if strings.TrimSpace(text) == "" {
		return Filter{}, nil
	}

	toks, err := lex(text)
	if err != nil {
		return Filter{}, err
	}

	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return Filter{}, err
	}
	if !p.done() {
		return Filter{}, fmt.Errorf("unexpected %s at position %d", p.peek(), p.peek().pos)
	}

	return Filter{root: root, text: text}, nil
}

type tokenKind int

const (
	tkIdent tokenKind = iota
	tkString
	tkNumber
	tkDatetime
	tkLParen
	tkRParen
	tkComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tkString:
		return "'" + t.text + "'"
	case tkDatetime:
		return "datetime'" + t.text + "'"
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

func lex(s string) ([]token, error) {
	var toks []token
	runes := []rune(s)

	readQuoted := func(i int) (string, int, error) {
		// runes[i] is the opening quote
		var sb strings.Builder
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == '\'' {
				if j+1 < len(runes) && runes[j+1] == '\'' {
					sb.WriteRune('\'')
					j++
					continue
				}
				return sb.String(), j + 1, nil
			}
			sb.WriteRune(runes[j])
		}
		return "", 0, fmt.Errorf("unterminated string starting at position %d", i)
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tkLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tkRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tkComma, text: ",", pos: i})
			i++
		case r == '\'':
			str, next, err := readQuoted(i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tkString, text: str, pos: i})
			i = next
		case r == '-' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || strings.ContainsRune(".eE+-", runes[i])) {
				// a sign is only part of the number right after an exponent
				if (runes[i] == '+' || runes[i] == '-') && runes[i-1] != 'e' && runes[i-1] != 'E' {
					break
				}
				i++
			}
			toks = append(toks, token{kind: tkNumber, text: string(runes[start:i]), pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || strings.ContainsRune("_./", runes[i])) {
				i++
			}
			word := string(runes[start:i])
			if strings.EqualFold(word, "datetime") && i < len(runes) && runes[i] == '\'' {
				str, next, err := readQuoted(i)
				if err != nil {
					return nil, err
				}
				toks = append(toks, token{kind: tkDatetime, text: str, pos: start})
				i = next
				continue
			}
			toks = append(toks, token{kind: tkIdent, text: word, pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}

	return toks, nil
}

type parser struct {
	toks []token
	cur  int
}

func (p *parser) done() bool {
	return p.cur >= len(p.toks)
}

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tkIdent, text: "end of input", pos: -1}
	}
	return p.toks[p.cur]
}

func (p *parser) next() token {
	t := p.peek()
	p.cur++
	return t
}

func (p *parser) keyword(word string) bool {
	if p.done() {
		return false
	}
	t := p.toks[p.cur]
	if t.kind == tkIdent && strings.EqualFold(t.text, word) {
		p.cur++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.done() || p.toks[p.cur].kind != kind {
		return fmt.Errorf("expected %s but got %s", what, p.peek())
	}
	p.cur++
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = logicNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.keyword("not") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = []string{"eq", "ne", "gt", "ge", "lt", "le"}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for _, op := range comparisonOps {
		if p.keyword(op) {
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return compareNode{op: op, left: left, right: right}, nil
		}
	}

	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	if p.done() {
		return nil, fmt.Errorf("unexpected end of filter")
	}

	t := p.next()
	switch t.kind {
	case tkLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tkString:
		return literalNode{value: t.text}, nil
	case tkNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return literalNode{value: f}, nil
	case tkDatetime:
		tm, err := parseTime(t.text)
		if err != nil {
			return nil, fmt.Errorf("invalid datetime %q at position %d", t.text, t.pos)
		}
		return literalNode{value: tm}, nil
	case tkIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return literalNode{value: true}, nil
		case "false":
			return literalNode{value: false}, nil
		case "null":
			return literalNode{value: nil}, nil
		}
		if !p.done() && p.toks[p.cur].kind == tkLParen {
			return p.parseCall(t)
		}
		return fieldNode{name: t.text}, nil
	default:
		return nil, fmt.Errorf("unexpected %s at position %d", t, t.pos)
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[strings.ToLower(name.text)]
	if !ok {
		return nil, fmt.Errorf("unsupported function %q at position %d", name.text, name.pos)
	}

	p.next() // '('
	var args []node
	for {
		arg, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.done() {
			return nil, fmt.Errorf("unterminated call to %s", name.text)
		}
		if p.toks[p.cur].kind == tkComma {
			p.next()
			continue
		}
		if err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		break
	}

	if len(args) != 2 {
		return nil, fmt.Errorf("%s takes 2 arguments but got %d", name.text, len(args))
	}
	return callNode{fn: fn, args: args}, nil
}

type node interface {
	eval(e Entity) interface{}
}

type literalNode struct {
	value interface{}
}

func (n literalNode) eval(e Entity) interface{} {
	return n.value
}

type fieldNode struct {
	name string
}

func (n fieldNode) eval(e Entity) interface{} {
	return normalize(lookup(e, n.name))
}

type logicNode struct {
	op          string
	left, right node
}

func (n logicNode) eval(e Entity) interface{} {
	l, _ := n.left.eval(e).(bool)
	if n.op == "and" {
		if !l {
			return false
		}
		r, _ := n.right.eval(e).(bool)
		return r
	}
	if l {
		return true
	}
	r, _ := n.right.eval(e).(bool)
	return r
}

type notNode struct {
	operand node
}

func (n notNode) eval(e Entity) interface{} {
	v, _ := n.operand.eval(e).(bool)
	return !v
}

type compareNode struct {
	op          string
	left, right node
}

func (n compareNode) eval(e Entity) interface{} {
	l := n.left.eval(e)
	r := n.right.eval(e)

	if l == nil || r == nil {
		switch n.op {
		case "eq":
			return l == nil && r == nil
		case "ne":
			return !(l == nil && r == nil)
		default:
			return false
		}
	}

	c, ok := compareValues(l, r)
	if !ok {
		return n.op == "ne"
	}

	switch n.op {
	case "eq":
		return c == 0
	case "ne":
		return c != 0
	case "gt":
		return c > 0
	case "ge":
		return c >= 0
	case "lt":
		return c < 0
	default:
		return c <= 0
	}
}

type callNode struct {
	fn   func(a, b string) bool
	args []node
}

var functions = map[string]func(a, b string) bool{
	"startswith":  strings.HasPrefix,
	"endswith":    strings.HasSuffix,
	"substringof": func(a, b string) bool { return strings.Contains(b, a) },
}

func (n callNode) eval(e Entity) interface{} {
	a, aOK := n.args[0].eval(e).(string)
	b, bOK := n.args[1].eval(e).(string)
	if !aOK || !bOK {
		return false
	}
	return n.fn(a, b)
}

// lookup finds a field by exact name, falling back to a match that ignores
// case.
func lookup(e Entity, name string) interface{} {
	if v, ok := e[name]; ok {
		return v
	}
	for k, v := range e {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// normalize converts the numeric types that entities hold to float64.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

// compareValues orders a against b. The second return value is false if the
// two cannot be compared.
func compareValues(a, b interface{}) (int, bool) {
	a, b = normalize(a), normalize(b)

	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			if s, isStr := b.(string); isStr {
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					bv, ok = f, true
				}
			}
		}
		if !ok {
			return 0, false
		}
		return cmpOrdered(av, bv), true
	case string:
		switch bv := b.(type) {
		case string:
			return strings.Compare(av, bv), true
		case time.Time:
			at, err := parseTime(av)
			if err != nil {
				return 0, false
			}
			return at.Compare(bv), true
		case float64:
			c, ok := compareValues(bv, av)
			return -c, ok
		}
		return 0, false
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return av.Compare(bv), true
		case string:
			c, ok := compareValues(bv, av)
			return -c, ok
		}
		return 0, false
	default:
		return 0, false
	}
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a recognized time: %q", s)
}
