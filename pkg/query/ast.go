package query

// Expr is a value-producing expression used in FILTER/SELECT/AGGREGATE/LET
// (spec §4.7). Distinct from tags.Expr, which only describes the FROM
// source's tag predicate.
type Expr interface{ isExpr() }

// Literal is a constant number/string/bool/null.
type Literal struct{ Value Value }

// Ident references a bound variable (LET binding, or an internal `!n`
// aggregator variable). The special name "_" refers to the current input
// value.
type Ident struct{ Name string }

// Property accesses a field of an object-valued expression (e.g. `_.n`).
type Property struct {
	Base Expr
	Name string
}

// Index accesses an element of an array-valued expression.
type Index struct {
	Base Expr
	Idx  Expr
}

// Unary is a prefix operator: "-" or "!".
type Unary struct {
	Op string
	X  Expr
}

// Binary is an infix operator: arithmetic, comparison, or boolean.
type Binary struct {
	Op   string
	L, R Expr
}

// ArrayLit is a literal array expression.
type ArrayLit struct{ Elems []Expr }

// ObjectLit is a literal object expression.
type ObjectLit struct{ Fields map[string]Expr }

// Spread marks an element of a SELECT list for flattening ("..._").
type Spread struct{ X Expr }

// Call is a named function or aggregator invocation, e.g. SUM(_), LAST(_).
type Call struct {
	Name string
	Args []Expr
}

// SubQueryExpr embeds a nested `(FROM ...)` query; it evaluates to the array
// of values the inner query produces (spec §4.7 "Sub-query").
type SubQueryExpr struct{ Query *Query }

func (*Literal) isExpr()      {}
func (*Ident) isExpr()        {}
func (*Property) isExpr()     {}
func (*Index) isExpr()        {}
func (*Unary) isExpr()        {}
func (*Binary) isExpr()       {}
func (*ArrayLit) isExpr()     {}
func (*ObjectLit) isExpr()    {}
func (*Spread) isExpr()       {}
func (*Call) isExpr()         {}
func (*SubQueryExpr) isExpr() {}

// aggregatorNames is the set of supported terminal-stage aggregator
// functions (spec §4.7 "Supported aggregators").
var aggregatorNames = map[string]bool{
	"SUM": true, "PRODUCT": true, "MIN": true, "MAX": true, "FIRST": true, "LAST": true,
}

// IsAggregatorCall reports whether c names one of the built-in aggregators.
func (c *Call) IsAggregatorCall() bool { return aggregatorNames[c.Name] }
