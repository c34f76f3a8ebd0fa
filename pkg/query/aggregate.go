package query

import (
	"fmt"
	"sort"
	"strings"
)

// AggregatorSpec is one distinct (aggregator, argument) pair extracted from
// an AGGREGATE stage's expression (spec §4.7 "Aggregate rewrite").
type AggregatorSpec struct {
	Var string // internal variable name, e.g. "!0"
	Fn  string // SUM, PRODUCT, MIN, MAX, FIRST, LAST
	Arg Expr
}

// rewriteAggregate replaces every distinct aggregator call in e with a
// reference to an internal `!n` variable and returns the rewritten
// expression alongside the list of aggregators that feed those variables.
// Two syntactically identical (aggregator, argument) pairs share one
// variable and one running aggregator instance.
func rewriteAggregate(e Expr) (Expr, []AggregatorSpec) {
	varOf := map[string]string{} // exprKey -> var name
	var specs []AggregatorSpec
	rewritten := rewriteExpr(e, varOf, &specs)
	return rewritten, specs
}

func rewriteExpr(e Expr, varOf map[string]string, specs *[]AggregatorSpec) Expr {
	switch v := e.(type) {
	case *Call:
		if !v.IsAggregatorCall() {
			args := make([]Expr, len(v.Args))
			for i, a := range v.Args {
				args[i] = rewriteExpr(a, varOf, specs)
			}
			return &Call{Name: v.Name, Args: args}
		}
		var arg Expr = &Literal{Value: Null()}
		if len(v.Args) > 0 {
			arg = v.Args[0]
		}
		key := v.Name + "(" + exprKey(arg) + ")"
		name, ok := varOf[key]
		if !ok {
			name = fmt.Sprintf("!%d", len(*specs))
			varOf[key] = name
			*specs = append(*specs, AggregatorSpec{Var: name, Fn: v.Name, Arg: arg})
		}
		return &Ident{Name: name}
	case *Unary:
		return &Unary{Op: v.Op, X: rewriteExpr(v.X, varOf, specs)}
	case *Binary:
		return &Binary{Op: v.Op, L: rewriteExpr(v.L, varOf, specs), R: rewriteExpr(v.R, varOf, specs)}
	case *Property:
		return &Property{Base: rewriteExpr(v.Base, varOf, specs), Name: v.Name}
	case *Index:
		return &Index{Base: rewriteExpr(v.Base, varOf, specs), Idx: rewriteExpr(v.Idx, varOf, specs)}
	case *ArrayLit:
		elems := make([]Expr, len(v.Elems))
		for i, el := range v.Elems {
			elems[i] = rewriteExpr(el, varOf, specs)
		}
		return &ArrayLit{Elems: elems}
	case *ObjectLit:
		fields := make(map[string]Expr, len(v.Fields))
		for k, el := range v.Fields {
			fields[k] = rewriteExpr(el, varOf, specs)
		}
		return &ObjectLit{Fields: fields}
	case *Spread:
		return &Spread{X: rewriteExpr(v.X, varOf, specs)}
	default:
		return e
	}
}

// exprKey is a canonical textual form of an expression, used to deduplicate
// identical aggregator calls. Map-valued nodes sort their keys so the
// result is order-independent.
func exprKey(e Expr) string {
	switch v := e.(type) {
	case *Literal:
		return "lit:" + stringify(v.Value)
	case *Ident:
		return "id:" + v.Name
	case *Property:
		return exprKey(v.Base) + "." + v.Name
	case *Index:
		return exprKey(v.Base) + "[" + exprKey(v.Idx) + "]"
	case *Unary:
		return v.Op + exprKey(v.X)
	case *Binary:
		return "(" + exprKey(v.L) + v.Op + exprKey(v.R) + ")"
	case *ArrayLit:
		parts := make([]string, len(v.Elems))
		for i, el := range v.Elems {
			parts[i] = exprKey(el)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case *ObjectLit:
		keys := make([]string, 0, len(v.Fields))
		for k := range v.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + exprKey(v.Fields[k])
		}
		return "{" + strings.Join(parts, ",") + "}"
	case *Spread:
		return "..." + exprKey(v.X)
	case *Call:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = exprKey(a)
		}
		return v.Name + "(" + strings.Join(args, ",") + ")"
	case *SubQueryExpr:
		return "(subquery)"
	default:
		return fmt.Sprintf("%T", e)
	}
}

// PreferredOrderForAggregators implements spec §4.7 "Preferred order":
// LAST(_) alone prefers descending, FIRST(_) alone prefers ascending, any
// other combination has no preference.
func PreferredOrderForAggregators(specs []AggregatorSpec) Order {
	if len(specs) != 1 {
		return OrderUnspecified
	}
	switch specs[0].Fn {
	case "LAST":
		return OrderDesc
	case "FIRST":
		return OrderAsc
	default:
		return OrderUnspecified
	}
}
