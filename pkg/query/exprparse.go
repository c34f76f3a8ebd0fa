package query

import "fmt"

// parser parses the whole AQL-like grammar (spec §4.7) — FEATURES pragma,
// FROM source, stages, and the value-expression language used inside
// FILTER/SELECT/AGGREGATE/LET — off one shared token stream, so a nested
// sub-query `(FROM ...)` is just a recursive call rather than a second
// lexer splicing substrings back together.
type parser struct {
	lex *lexer
	cur token
}

func newParser(input string) (*parser, error) {
	p := &parser{lex: newLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) isOp(text string) bool { return p.cur.kind == tokOp && p.cur.text == text }
func (p *parser) isIdent(name string) bool {
	return p.cur.kind == tokIdent && p.cur.text == name
}

func (p *parser) expectOp(text string) error {
	if !p.isOp(text) {
		return fmt.Errorf("query: expected %q at %d, got %q", text, p.cur.pos, p.cur.text)
	}
	return p.advance()
}

// parseExpr parses one full expression (the entry point used by
// FILTER/LET/AGGREGATE and each SELECT element).
func (p *parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("||") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "||", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isOp("&&") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "&&", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseEquality() (Expr, error) {
	l, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.isOp("==") || p.isOp("!=") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseRelational() (Expr, error) {
	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isOp("<") || p.isOp("<=") || p.isOp(">") || p.isOp(">=") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isOp("-") || p.isOp("!") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tokIdent {
				return nil, fmt.Errorf("query: expected property name at %d", p.cur.pos)
			}
			name := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			e = &Property{Base: e, Name: name}
		case p.isOp("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			e = &Index{Base: e, Idx: idx}
		default:
			return e, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	switch {
	case p.cur.kind == tokNumber:
		n := p.cur.num
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Value: Number(n)}, nil
	case p.cur.kind == tokString:
		s := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Value: String(s)}, nil
	case p.isOp("..."):
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Spread{X: x}, nil
	case p.isOp("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isIdent("FROM") {
			inner, err := p.parseQueryBody()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return &SubQueryExpr{Query: inner}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isOp("["):
		return p.parseArrayLit()
	case p.isOp("{"):
		return p.parseObjectLit()
	case p.cur.kind == tokIdent:
		return p.parseIdentOrCall()
	default:
		return nil, fmt.Errorf("query: unexpected token %q at %d", p.cur.text, p.cur.pos)
	}
}

func (p *parser) parseArrayLit() (Expr, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	var elems []Expr
	for !p.isOp("]") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &ArrayLit{Elems: elems}, nil
}

func (p *parser) parseObjectLit() (Expr, error) {
	if err := p.advance(); err != nil { // consume '{'
		return nil, err
	}
	fields := map[string]Expr{}
	for !p.isOp("}") {
		if p.cur.kind != tokIdent && p.cur.kind != tokString {
			return nil, fmt.Errorf("query: expected object key at %d", p.cur.pos)
		}
		key := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectOp(":"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fields[key] = v
		if p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return &ObjectLit{Fields: fields}, nil
}

func (p *parser) parseIdentOrCall() (Expr, error) {
	switch p.cur.text {
	case "true":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Value: Bool(true)}, nil
	case "false":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Value: Bool(false)}, nil
	case "null":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Value: Null()}, nil
	}

	name := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if !p.isOp("(") {
		return &Ident{Name: name}, nil
	}

	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []Expr
	for !p.isOp(")") {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return &Call{Name: name, Args: args}, nil
}
