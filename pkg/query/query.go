package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgemesh/axcore/pkg/tags"
)

// Order is the read direction a query's source should be evaluated in.
type Order int

const (
	// OrderUnspecified lets the event store pick, using the stage
	// pipeline's PreferredOrder hint (spec §4.7 "Preferred order").
	OrderUnspecified Order = iota
	OrderAsc
	OrderDesc
)

// SourceKind discriminates a Query's FROM clause.
type SourceKind int

const (
	SourceTags SourceKind = iota
	SourceLiteral
)

// Source is a query's `FROM <source>` clause.
type Source struct {
	Kind    SourceKind
	DNF     tags.DNF
	Order   Order
	Literal Expr // ArrayLit, only set when Kind == SourceLiteral
}

// Stage is one pipeline stage (spec §4.7). Concrete kinds are variants, per
// the "capability abstraction... Filter, Select, Aggregate, Limit, Binding"
// redesign note rather than a class hierarchy.
type Stage interface{ isStage() }

type FilterStage struct{ Expr Expr }
type SelectStage struct{ Exprs []Expr }
type AggregateStage struct{ Expr Expr }
type LimitStage struct{ N int }
type LetStage struct {
	Name string
	Expr Expr
}

func (*FilterStage) isStage()    {}
func (*SelectStage) isStage()    {}
func (*AggregateStage) isStage() {}
func (*LimitStage) isStage()     {}
func (*LetStage) isStage()       {}

// Query is a fully parsed `FROM ... <stage>*` pipeline plus its declared
// feature pragma.
type Query struct {
	Source   Source
	Stages   []Stage
	Declared FeatureSet
}

var stageKeywords = map[string]bool{
	"FILTER": true, "SELECT": true, "AGGREGATE": true, "LIMIT": true, "LET": true,
}

// ParseQuery parses a complete top-level query string (spec §4.7).
func ParseQuery(input string) (*Query, error) {
	p, err := newParser(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	q, err := p.parseTopLevel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if !p.atEOF() {
		return nil, fmt.Errorf("%w: unexpected trailing input at %d: %q", ErrParse, p.cur.pos, p.cur.text)
	}
	return q, nil
}

func (p *parser) atEOF() bool { return p.cur.kind == tokEOF }

func (p *parser) parseTopLevel() (*Query, error) {
	declared, err := p.parseFeaturesPragma()
	if err != nil {
		return nil, err
	}
	q, err := p.parseQueryBody()
	if err != nil {
		return nil, err
	}
	q.Declared = declared
	return q, nil
}

func (p *parser) parseFeaturesPragma() (FeatureSet, error) {
	if !p.isIdent("FEATURES") {
		return FeatureSet{}, nil
	}
	if err := p.advance(); err != nil {
		return FeatureSet{}, err
	}
	if err := p.expectOp("("); err != nil {
		return FeatureSet{}, err
	}
	var names []string
	for !p.isOp(")") {
		if p.cur.kind != tokIdent {
			return FeatureSet{}, fmt.Errorf("query: expected feature name at %d", p.cur.pos)
		}
		names = append(names, p.cur.text)
		if err := p.advance(); err != nil {
			return FeatureSet{}, err
		}
	}
	if err := p.expectOp(")"); err != nil {
		return FeatureSet{}, err
	}
	return NewFeatureSet(names...), nil
}

// parseQueryBody parses `FROM <source> <stage>*`, without the FEATURES
// pragma — shared between the top-level query and a nested `(FROM ...)`
// sub-query, which has no pragma of its own.
func (p *parser) parseQueryBody() (*Query, error) {
	if !p.isIdent("FROM") {
		return nil, fmt.Errorf("query: expected FROM at %d, got %q", p.cur.pos, p.cur.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	source, err := p.parseSource()
	if err != nil {
		return nil, err
	}

	var stages []Stage
	for {
		stage, ok, err := p.parseStage()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		stages = append(stages, stage)
		if _, isAgg := stage.(*AggregateStage); isAgg {
			break // terminal stage (spec §4.7 "AGGREGATE expr | Terminal stage")
		}
	}

	return &Query{Source: source, Stages: stages}, nil
}

func (p *parser) parseSource() (Source, error) {
	if p.isOp("[") {
		lit, err := p.parseArrayLit()
		if err != nil {
			return Source{}, err
		}
		return Source{Kind: SourceLiteral, Literal: lit}, nil
	}

	text, stopLen, err := scanSourceText(p.lex.input[p.cur.pos:])
	if err != nil {
		return Source{}, err
	}
	dnfExpr, err := tags.ParseExpr(strings.TrimSpace(text))
	if err != nil {
		return Source{}, fmt.Errorf("query: source tag expression: %w", err)
	}
	dnf, err := tags.ToDNF(dnfExpr)
	if err != nil {
		return Source{}, err
	}

	p.lex.pos = p.cur.pos + stopLen
	if err := p.advance(); err != nil {
		return Source{}, err
	}

	order := OrderUnspecified
	if p.isIdent("Asc") {
		order = OrderAsc
		if err := p.advance(); err != nil {
			return Source{}, err
		}
	} else if p.isIdent("Desc") {
		order = OrderDesc
		if err := p.advance(); err != nil {
			return Source{}, err
		}
	}

	return Source{Kind: SourceTags, DNF: dnf, Order: order}, nil
}

// scanSourceText finds the prefix of s that is the FROM clause's tag
// expression: everything up to (but not including) the first top-level
// occurrence of a stage keyword or an Asc/Desc order override. Top-level
// meaning outside any paren nesting, since a tag expression itself uses
// parens for grouping.
func scanSourceText(s string) (text string, stopLen int, err error) {
	sub := newLexer(s)
	depth := 0
	for {
		t, err := sub.next()
		if err != nil {
			return "", 0, err
		}
		if t.kind == tokEOF {
			return s, len(s), nil
		}
		if t.kind == tokOp && t.text == "(" {
			depth++
			continue
		}
		if t.kind == tokOp && t.text == ")" {
			depth--
			continue
		}
		if depth == 0 && t.kind == tokIdent && (stageKeywords[t.text] || t.text == "Asc" || t.text == "Desc") {
			return s[:t.pos], t.pos, nil
		}
	}
}

func (p *parser) parseStage() (Stage, bool, error) {
	switch {
	case p.isIdent("FILTER"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, false, err
		}
		return &FilterStage{Expr: e}, true, nil

	case p.isIdent("SELECT"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		var exprs []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, false, err
			}
			exprs = append(exprs, e)
			if p.isOp(",") {
				if err := p.advance(); err != nil {
					return nil, false, err
				}
				continue
			}
			break
		}
		return &SelectStage{Exprs: exprs}, true, nil

	case p.isIdent("AGGREGATE"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, false, err
		}
		return &AggregateStage{Expr: e}, true, nil

	case p.isIdent("LIMIT"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		if p.cur.kind != tokNumber {
			return nil, false, fmt.Errorf("query: expected integer after LIMIT at %d", p.cur.pos)
		}
		n, err := strconv.Atoi(p.cur.text)
		if err != nil {
			return nil, false, fmt.Errorf("query: invalid LIMIT value %q: %w", p.cur.text, err)
		}
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		return &LimitStage{N: n}, true, nil

	case p.isIdent("LET"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		if p.cur.kind != tokIdent {
			return nil, false, fmt.Errorf("query: expected variable name after LET at %d", p.cur.pos)
		}
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		if err := p.expectOp(":="); err != nil {
			return nil, false, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, false, err
		}
		return &LetStage{Name: name, Expr: e}, true, nil

	default:
		return nil, false, nil
	}
}
