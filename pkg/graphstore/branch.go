package graphstore

import (
	"fmt"
	"strings"
	"unicode"
)

// Branch guard expressions are small boolean formulas over collected values,
// e.g. `claim_type == 'surrender' and confirmed == true` or
// `intent in ['claim', 'refund']`. The grammar:
//
//	expr    := and ('or' and)*
//	and     := unary ('and' unary)*
//	unary   := 'not' unary | cmp
//	cmp     := term (('==' | '!=') term | 'in' term)?
//	term    := '(' expr ')' | '[' term (',' term)* ']' | literal | ident
//
// Identifiers resolve against the value map; unknown identifiers resolve to
// the empty string so guards on unfilled slots evaluate false rather than
// erroring.

// EvalBranch evaluates a guard expression against collected values. A parse
// error is returned so the caller can prune the edge.
func EvalBranch(expr string, values map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return false, fmt.Errorf("empty branch expression")
	}

	tokens, err := tokenizeBranch(expr)
	if err != nil {
		return false, err
	}
	p := &branchParser{tokens: tokens, values: values}
	result, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.tokens) {
		return false, fmt.Errorf("unexpected token %q", p.tokens[p.pos].text)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression is not boolean")
	}
	return b, nil
}

type branchToken struct {
	kind string // ident, string, op, punct
	text string
}

func tokenizeBranch(input string) ([]branchToken, error) {
	var tokens []branchToken
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, branchToken{kind: "string", text: string(runes[i+1 : j])})
			i = j + 1
		case r == '(' || r == ')' || r == '[' || r == ']' || r == ',':
			tokens = append(tokens, branchToken{kind: "punct", text: string(r)})
			i++
		case r == '=' || r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, branchToken{kind: "op", text: string(runes[i : i+2])})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected character %q", string(r))
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			switch strings.ToLower(word) {
			case "and", "or", "not", "in":
				tokens = append(tokens, branchToken{kind: "op", text: strings.ToLower(word)})
			default:
				tokens = append(tokens, branchToken{kind: "ident", text: word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(r))
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty branch expression")
	}
	return tokens, nil
}

type branchParser struct {
	tokens []branchToken
	pos    int
	values map[string]any
}

func (p *branchParser) peek() *branchToken {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *branchParser) accept(kind, text string) bool {
	t := p.peek()
	if t != nil && t.kind == kind && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *branchParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("op", "or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *branchParser) parseAnd() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept("op", "and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *branchParser) parseUnary() (any, error) {
	if p.accept("op", "not") {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.parseCmp()
}

func (p *branchParser) parseCmp() (any, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	switch {
	case p.accept("op", "=="):
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return branchEqual(left, right), nil
	case p.accept("op", "!="):
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return !branchEqual(left, right), nil
	case p.accept("op", "in"):
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return branchContains(right, left), nil
	}
	return left, nil
}

func (p *branchParser) parseTerm() (any, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch {
	case p.accept("punct", "("):
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.accept("punct", ")") {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return v, nil
	case p.accept("punct", "["):
		var items []any
		for {
			item, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.accept("punct", ",") {
				continue
			}
			break
		}
		if !p.accept("punct", "]") {
			return nil, fmt.Errorf("missing closing bracket")
		}
		return items, nil
	case t.kind == "string":
		p.pos++
		return t.text, nil
	case t.kind == "ident":
		p.pos++
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		if v, ok := p.values[t.text]; ok {
			return v, nil
		}
		return "", nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

func branchEqual(a, b any) bool {
	if ab, ok := a.(bool); ok {
		return ab == truthy(b)
	}
	if bb, ok := b.(bool); ok {
		return truthy(a) == bb
	}
	return branchString(a) == branchString(b)
}

func branchContains(container, item any) bool {
	switch c := container.(type) {
	case []any:
		for _, v := range c {
			if branchEqual(v, item) {
				return true
			}
		}
		return false
	case []string:
		for _, v := range c {
			if v == branchString(item) {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(c, branchString(item))
	default:
		return false
	}
}

func branchString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case nil:
		return false
	default:
		return true
	}
}
