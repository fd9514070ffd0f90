package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"conduit/internal/value"
)

// ParseError describes a formula that could not be parsed.
type ParseError struct {
	Formula string
	Pos     int
	Msg     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("formula %q: %s at position %d", e.Formula, e.Msg, e.Pos)
}

type tokenType uint8

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent
	tokSibling
	tokForeign
	tokInput
	tokOperator
	tokLParen
	tokRParen
	tokSeparator
)

type token struct {
	typ  tokenType
	text string
	op   Operator
	pos  int
}

// Longer symbols first so "<>" wins over "<".
var operatorLexemes = []struct {
	sym string
	op  Operator
}{
	{"±±=", MatchesRegexStrict},
	{"~~=", ContainsStringStrict},
	{"±=", MatchesRegex},
	{"~=", ContainsString},
	{"<>", NotEquals},
	{">=", GreaterEqual},
	{"<=", LesserEqual},
	{"=", Equals},
	{">", Greater},
	{"<", Lesser},
	{"+", Addition},
	{"-", Subtraction},
	{"*", Multiplication},
	{"/", Division},
	{"%", Modulus},
	{"^", Power},
	{"&", Concatenation},
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return &ParseError{Formula: l.src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		r, n := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += n
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{typ: tokEOF, pos: start}, nil
	}
	rest := l.src[l.pos:]
	c := rest[0]
	switch {
	case c == '(':
		l.pos++
		return token{typ: tokLParen, pos: start}, nil
	case c == ')':
		l.pos++
		return token{typ: tokRParen, pos: start}, nil
	case c == ';' || c == ',':
		l.pos++
		return token{typ: tokSeparator, pos: start}, nil
	case c == '@':
		l.pos++
		return token{typ: tokInput, pos: start}, nil
	case c == '"':
		s, err := l.scanString()
		return token{typ: tokString, text: s, pos: start}, err
	case c == '[':
		return l.scanReference()
	case c >= '0' && c <= '9' || c == '.':
		for l.pos < len(l.src) {
			d := l.src[l.pos]
			if d >= '0' && d <= '9' || d == '.' {
				l.pos++
				continue
			}
			// Exponent with optional sign.
			if (d == 'e' || d == 'E') && l.pos+1 < len(l.src) {
				l.pos++
				if l.src[l.pos] == '+' || l.src[l.pos] == '-' {
					l.pos++
				}
				continue
			}
			break
		}
		return token{typ: tokNumber, text: l.src[start:l.pos], pos: start}, nil
	}
	for _, lx := range operatorLexemes {
		if strings.HasPrefix(rest, lx.sym) {
			l.pos += len(lx.sym)
			return token{typ: tokOperator, op: lx.op, text: lx.sym, pos: start}, nil
		}
	}
	r, _ := utf8.DecodeRuneInString(rest)
	if unicode.IsLetter(r) || r == '_' {
		for l.pos < len(l.src) {
			r, n := utf8.DecodeRuneInString(l.src[l.pos:])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				break
			}
			l.pos += n
		}
		return token{typ: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	}
	return token{}, l.errorf(start, "unexpected character %q", r)
}

// scanString reads a double-quoted literal; "" inside the quotes is a quote.
func (l *lexer) scanString() (string, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '"' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '"' {
				b.WriteByte('"')
				l.pos += 2
				continue
			}
			l.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return "", l.errorf(start, "unterminated string")
}

// scanReference reads [@column] or [#column]; "]]" inside is a literal bracket.
func (l *lexer) scanReference() (token, error) {
	start := l.pos
	if l.pos+1 >= len(l.src) {
		return token{}, l.errorf(start, "unterminated column reference")
	}
	typ := tokSibling
	switch l.src[l.pos+1] {
	case '@':
	case '#':
		typ = tokForeign
	default:
		return token{}, l.errorf(start, "column reference must start with [@ or [#")
	}
	l.pos += 2
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ']' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == ']' {
				b.WriteByte(']')
				l.pos += 2
				continue
			}
			l.pos++
			return token{typ: typ, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, l.errorf(start, "unterminated column reference")
}

const (
	precedenceNone = iota
	precedenceComparison
	precedenceConcat
	precedenceAdditive
	precedenceMultiplicative
	precedencePower
	precedenceUnary
)

func infixPrecedence(op Operator) int {
	switch op {
	case Concatenation:
		return precedenceConcat
	case Addition, Subtraction:
		return precedenceAdditive
	case Multiplication, Division, Modulus:
		return precedenceMultiplicative
	case Power:
		return precedencePower
	default:
		if op.IsComparison() {
			return precedenceComparison
		}
		return precedenceNone
	}
}

type parser struct {
	lex    *lexer
	peeked *token
}

func (p *parser) peek() (token, error) {
	if p.peeked == nil {
		t, err := p.lex.next()
		if err != nil {
			return token{}, err
		}
		p.peeked = &t
	}
	return *p.peeked, nil
}

func (p *parser) scan() (token, error) {
	t, err := p.peek()
	p.peeked = nil
	return t, err
}

// Parse parses a formula such as `=[@price] * 1.21` into an expression. The
// leading "=" is optional. Function arguments are separated by ";" or ",".
func Parse(formula string) (Expression, error) {
	src := strings.TrimSpace(formula)
	src = strings.TrimPrefix(src, "=")
	p := &parser{lex: &lexer{src: src}}
	e, err := p.parsePrecedence(precedenceComparison)
	if err != nil {
		return nil, err
	}
	t, err := p.scan()
	if err != nil {
		return nil, err
	}
	if t.typ != tokEOF {
		return nil, p.lex.errorf(t.pos, "unexpected trailing input")
	}
	return e, nil
}

// MustParse is Parse for formulas known to be valid, such as test fixtures.
func MustParse(formula string) Expression {
	e, err := Parse(formula)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *parser) parsePrecedence(minPrec int) (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.typ != tokOperator {
			return left, nil
		}
		prec := infixPrecedence(t.op)
		if prec < minPrec {
			return left, nil
		}
		p.scan()
		right, err := p.parsePrecedence(prec + 1)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: t.op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expression, error) {
	t, err := p.scan()
	if err != nil {
		return nil, err
	}
	switch t.typ {
	case tokOperator:
		switch t.op {
		case Subtraction:
			operand, err := p.parsePrecedence(precedenceUnary)
			if err != nil {
				return nil, err
			}
			if lit, ok := operand.(Literal); ok && lit.Value.IsNumeric() {
				return Literal{Value: value.Negate(lit.Value)}, nil
			}
			return Call{Function: Negate, Arguments: []Expression{operand}}, nil
		case Addition:
			return p.parsePrecedence(precedenceUnary)
		}
		return nil, p.lex.errorf(t.pos, "unexpected operator %q", t.text)
	case tokLParen:
		e, err := p.parsePrecedence(precedenceComparison)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return e, nil
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return Literal{Value: value.Int(i)}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.lex.errorf(t.pos, "malformed number %q", t.text)
		}
		return Literal{Value: value.Double(f)}, nil
	case tokString:
		return Literal{Value: value.String(t.text)}, nil
	case tokSibling:
		return Sibling{Column: value.Column(t.text)}, nil
	case tokForeign:
		return Foreign{Column: value.Column(t.text)}, nil
	case tokInput:
		return Input{}, nil
	case tokIdent:
		return p.parseIdent(t)
	case tokEOF:
		return nil, p.lex.errorf(t.pos, "unexpected end of formula")
	default:
		return nil, p.lex.errorf(t.pos, "unexpected token")
	}
}

func (p *parser) parseIdent(t token) (Expression, error) {
	next, err := p.peek()
	if err != nil {
		return nil, err
	}
	if next.typ != tokLParen {
		switch strings.ToUpper(t.text) {
		case "TRUE":
			return Literal{Value: value.Bool(true)}, nil
		case "FALSE":
			return Literal{Value: value.Bool(false)}, nil
		case "EMPTY":
			return Literal{Value: value.Empty()}, nil
		case "INVALID":
			return Literal{Value: value.Invalid()}, nil
		}
		return nil, p.lex.errorf(t.pos, "unknown name %q", t.text)
	}
	f, ok := FunctionByName(t.text)
	if !ok {
		return nil, p.lex.errorf(t.pos, "unknown function %q", t.text)
	}
	p.scan()

	var args []Expression
	if next, err = p.peek(); err != nil {
		return nil, err
	}
	if next.typ == tokRParen {
		p.scan()
	} else {
		for {
			a, err := p.parsePrecedence(precedenceComparison)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			sep, err := p.scan()
			if err != nil {
				return nil, err
			}
			if sep.typ == tokRParen {
				break
			}
			if sep.typ != tokSeparator {
				return nil, p.lex.errorf(sep.pos, "expected ; or ) in call to %s", f.Name())
			}
		}
	}
	if !f.Arity(len(args)) {
		return nil, p.lex.errorf(t.pos, "%s does not take %d arguments", f.Name(), len(args))
	}
	return Call{Function: f, Arguments: args}, nil
}

func (p *parser) expect(typ tokenType, what string) error {
	t, err := p.scan()
	if err != nil {
		return err
	}
	if t.typ != typ {
		return p.lex.errorf(t.pos, "expected %s", what)
	}
	return nil
}
