package services

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sophialabs/odatamock/internal/domain/odata"
)

// Filter is a compiled $filter expression.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter translates an OData $filter expression into an Expr
// program. Supported: eq ne gt ge lt le, and or not, add sub mul div mod,
// parentheses, string/number/bool/null literals, typed literals such as
// datetime'...' and guid'...', and the functions substringof, contains,
// startswith, endswith, tolower, toupper, trim, length and indexof.
func CompileFilter(source string) (*Filter, error) {
	tokens, err := tokenizeFilter(source)
	if err != nil {
		return nil, fmt.Errorf("%w: $filter: %v", ErrInvalidQuery, err)
	}

	p := &filterParser{tokens: tokens}
	code, err := p.parseOr()
	if err == nil && !p.done() {
		err = fmt.Errorf("unexpected %q", p.peek().text)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: $filter: %v", ErrInvalidQuery, err)
	}

	program, err := expr.Compile(code, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: $filter: %v", ErrInvalidQuery, err)
	}
	return &Filter{source: source, program: program}, nil
}

// String returns the original $filter text.
func (f *Filter) String() string { return f.source }

// Match evaluates the filter against e. Numeric strings of numeric Edm
// types are compared as numbers. Evaluation errors count as no match.
func (f *Filter) Match(e odata.Entity, t *odata.EntityType) bool {
	env := make(map[string]any, len(e))
	for k, v := range e {
		env[k] = coerceForFilter(v, k, t)
	}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}

func coerceForFilter(v any, name string, t *odata.EntityType) any {
	s, ok := v.(string)
	if !ok || t == nil {
		return v
	}
	p, ok := t.Property(name)
	if !ok {
		return v
	}
	switch p.Type {
	case "Edm.Decimal", "Edm.Int64", "Edm.Double", "Edm.Single":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return v
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

func tokenizeFilter(s string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(s) {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++
		case c == '\'':
			str, n, err := readQuoted(s[i:])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: str})
			i += n
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(s) && unicode.IsDigit(rune(s[i+1]))):
			j := i + 1
			for j < len(s) && (unicode.IsDigit(rune(s[j])) || s[j] == '.' || s[j] == 'e' || s[j] == 'E') {
				j++
			}
			num := s[i:j]
			// Drop Edm type suffixes: 10M, 2L, 1.5d, 3f.
			if j < len(s) && strings.ContainsRune("MmLlDdFf", rune(s[j])) {
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: num})
			i = j
		case unicode.IsLetter(c) || c == '_' || c == '$':
			j := i + 1
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || s[j] == '_' || s[j] == '.' || s[j] == '/') {
				j++
			}
			word := s[i:j]
			// Typed literal: datetime'...', guid'...', time'...', X'...'.
			if j < len(s) && s[j] == '\'' {
				str, n, err := readQuoted(s[j:])
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token{kind: tokString, text: str})
				i = j + n
				continue
			}
			tokens = append(tokens, token{kind: tokIdent, text: word})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}
	return tokens, nil
}

// readQuoted reads a single-quoted literal at the start of s. A doubled
// quote escapes a quote.
func readQuoted(s string) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(s[i])
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

var comparisonOps = map[string]string{
	"eq": "==", "ne": "!=", "gt": ">", "ge": ">=", "lt": "<", "le": "<=",
}

type filterParser struct {
	tokens []token
	pos    int
}

func (p *filterParser) done() bool { return p.pos >= len(p.tokens) }

func (p *filterParser) peek() token {
	if p.done() {
		return token{kind: -1}
	}
	return p.tokens[p.pos]
}

func (p *filterParser) keyword(words ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			p.pos++
			return strings.ToLower(w), true
		}
	}
	return "", false
}

func (p *filterParser) expect(kind tokenKind, what string) error {
	if p.peek().kind != kind {
		return fmt.Errorf("expected %s", what)
	}
	p.pos++
	return nil
}

func (p *filterParser) parseOr() (string, error) {
	left, err := p.parseAnd()
	if err != nil {
		return "", err
	}
	for {
		if _, ok := p.keyword("or"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return "", err
		}
		left = "(" + left + " || " + right + ")"
	}
}

func (p *filterParser) parseAnd() (string, error) {
	left, err := p.parseNot()
	if err != nil {
		return "", err
	}
	for {
		if _, ok := p.keyword("and"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return "", err
		}
		left = "(" + left + " && " + right + ")"
	}
}

func (p *filterParser) parseNot() (string, error) {
	if _, ok := p.keyword("not"); ok {
		inner, err := p.parseNot()
		if err != nil {
			return "", err
		}
		return "!(" + inner + ")", nil
	}
	return p.parseComparison()
}

func (p *filterParser) parseComparison() (string, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return "", err
	}
	if op, ok := p.keyword("eq", "ne", "gt", "ge", "lt", "le"); ok {
		right, err := p.parseAdditive()
		if err != nil {
			return "", err
		}
		return "(" + left + " " + comparisonOps[op] + " " + right + ")", nil
	}
	return left, nil
}

func (p *filterParser) parseAdditive() (string, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.keyword("add", "sub")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return "", err
		}
		sym := "+"
		if op == "sub" {
			sym = "-"
		}
		left = "(" + left + " " + sym + " " + right + ")"
	}
}

func (p *filterParser) parseMultiplicative() (string, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.keyword("mul", "div", "mod")
		if !ok {
			return left, nil
		}
		right, err := p.parsePrimary()
		if err != nil {
			return "", err
		}
		sym := map[string]string{"mul": "*", "div": "/", "mod": "%"}[op]
		left = "(" + left + " " + sym + " " + right + ")"
	}
}

func (p *filterParser) parsePrimary() (string, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return "", err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case tokString:
		p.pos++
		return strconv.Quote(t.text), nil
	case tokNumber:
		p.pos++
		return t.text, nil
	case tokIdent:
		p.pos++
		switch strings.ToLower(t.text) {
		case "true", "false":
			return strings.ToLower(t.text), nil
		case "null":
			return "nil", nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t.text)
		}
		if strings.Contains(t.text, "/") {
			return "", fmt.Errorf("navigation path %q is not supported", t.text)
		}
		return "$env[" + strconv.Quote(t.text) + "]", nil
	default:
		return "", fmt.Errorf("unexpected end of expression")
	}
}

func (p *filterParser) parseCall(name string) (string, error) {
	p.pos++ // (
	var args []string
	for p.peek().kind != tokRParen {
		if len(args) > 0 {
			if err := p.expect(tokComma, "','"); err != nil {
				return "", err
			}
		}
		arg, err := p.parseOr()
		if err != nil {
			return "", err
		}
		args = append(args, arg)
	}
	p.pos++ // )

	arity := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s expects %d arguments, got %d", name, n, len(args))
		}
		return nil
	}

	switch strings.ToLower(name) {
	case "substringof":
		if err := arity(2); err != nil {
			return "", err
		}
		return "(" + args[1] + " contains " + args[0] + ")", nil
	case "contains":
		if err := arity(2); err != nil {
			return "", err
		}
		return "(" + args[0] + " contains " + args[1] + ")", nil
	case "startswith":
		if err := arity(2); err != nil {
			return "", err
		}
		return "(" + args[0] + " startsWith " + args[1] + ")", nil
	case "endswith":
		if err := arity(2); err != nil {
			return "", err
		}
		return "(" + args[0] + " endsWith " + args[1] + ")", nil
	case "tolower":
		if err := arity(1); err != nil {
			return "", err
		}
		return "lower(" + args[0] + ")", nil
	case "toupper":
		if err := arity(1); err != nil {
			return "", err
		}
		return "upper(" + args[0] + ")", nil
	case "trim":
		if err := arity(1); err != nil {
			return "", err
		}
		return "trim(" + args[0] + ")", nil
	case "length":
		if err := arity(1); err != nil {
			return "", err
		}
		return "len(" + args[0] + ")", nil
	case "indexof":
		if err := arity(2); err != nil {
			return "", err
		}
		return "indexOf(" + args[0] + ", " + args[1] + ")", nil
	default:
		return "", fmt.Errorf("unsupported function %q", name)
	}
}
