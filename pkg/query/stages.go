package query

import "fmt"

// Processor is the stage-processor contract (spec §4.8): each stage kind is
// a variant rather than a node in a class hierarchy, per the "deep
// inheritance" redesign note.
type Processor interface {
	// Apply evaluates one input value, returning zero or more outputs. A
	// propagated evaluation error is returned as one in-band Value, never
	// as a Go error.
	Apply(cx *EvalContext, input Value) []Value
	// Flush produces this stage's final outputs, called exactly once
	// after the source drains.
	Flush(cx *EvalContext) []Value
	// IsDone may short-circuit the source under the given read order.
	IsDone(order Order) bool
	// PreferredOrder hints the read direction this stage would prefer.
	PreferredOrder() Order
}

// NewProcessor builds the Processor variant for a parsed Stage.
func NewProcessor(s Stage) Processor {
	switch st := s.(type) {
	case *FilterStage:
		return &filterProc{expr: st.Expr}
	case *SelectStage:
		return &selectProc{exprs: st.Exprs}
	case *AggregateStage:
		rewritten, specs := rewriteAggregate(st.Expr)
		states := make(map[string]*aggState, len(specs))
		for _, s := range specs {
			states[s.Var] = newAggState(s.Fn)
		}
		return &aggregateProc{expr: rewritten, specs: specs, states: states}
	case *LimitStage:
		return &limitProc{n: st.N}
	case *LetStage:
		return &letProc{name: st.Name, expr: st.Expr}
	default:
		return &filterProc{expr: &Literal{Value: Bool(false)}}
	}
}

type filterProc struct{ expr Expr }

func (p *filterProc) Apply(cx *EvalContext, input Value) []Value {
	cx.Cur = input
	v := Eval(p.expr, cx)
	if v.IsError() {
		return []Value{v}
	}
	if !v.Truthy() {
		return nil
	}
	return []Value{input}
}
func (p *filterProc) Flush(cx *EvalContext) []Value { return nil }
func (p *filterProc) IsDone(Order) bool             { return false }
func (p *filterProc) PreferredOrder() Order          { return OrderUnspecified }

type selectProc struct{ exprs []Expr }

func (p *selectProc) Apply(cx *EvalContext, input Value) []Value {
	cx.Cur = input
	var out []Value
	for _, e := range p.exprs {
		if sp, ok := e.(*Spread); ok {
			v := Eval(sp.X, cx)
			if v.IsError() {
				out = append(out, v)
				continue
			}
			if v.Kind != KindArray {
				out = append(out, Errorf("query: spread requires an array value"))
				continue
			}
			out = append(out, v.Arr...)
			continue
		}
		out = append(out, Eval(e, cx))
	}
	return out
}
func (p *selectProc) Flush(cx *EvalContext) []Value { return nil }
func (p *selectProc) IsDone(Order) bool             { return false }
func (p *selectProc) PreferredOrder() Order          { return OrderUnspecified }

type aggregateProc struct {
	expr   Expr
	specs  []AggregatorSpec
	states map[string]*aggState
}

func (p *aggregateProc) Apply(cx *EvalContext, input Value) []Value {
	cx.Cur = input
	for _, spec := range p.specs {
		v := Eval(spec.Arg, cx)
		p.states[spec.Var].feed(v)
	}
	return nil
}
func (p *aggregateProc) Flush(cx *EvalContext) []Value {
	for _, spec := range p.specs {
		cx.Vars[spec.Var] = p.states[spec.Var].result()
	}
	return []Value{Eval(p.expr, cx)}
}
func (p *aggregateProc) IsDone(order Order) bool {
	if len(p.specs) != 1 {
		return false
	}
	s := p.specs[0]
	st := p.states[s.Var]
	if !st.hasValue {
		return false
	}
	return (s.Fn == "FIRST" && order == OrderAsc) || (s.Fn == "LAST" && order == OrderDesc)
}
func (p *aggregateProc) PreferredOrder() Order { return PreferredOrderForAggregators(p.specs) }

// aggState is one running aggregator instance (spec §4.7 "Supported
// aggregators: SUM, PRODUCT, MIN, MAX, FIRST, LAST").
type aggState struct {
	fn       string
	value    Value
	hasValue bool
	err      error
}

func newAggState(fn string) *aggState { return &aggState{fn: fn} }

// feed folds one value into the running aggregate. Once err is set it
// stays set: a propagated in-band error poisons the rest of the flush
// rather than being silently absorbed as an identity element (Open
// Question #2 decision: aggregators propagate, not absorb).
func (a *aggState) feed(v Value) {
	if a.err != nil {
		return
	}
	if v.IsError() {
		a.err = v.Err
		return
	}
	switch a.fn {
	case "SUM":
		if v.Kind != KindNumber {
			a.err = fmt.Errorf("SUM requires a number, got %v", v.Kind)
			return
		}
		if !a.hasValue {
			a.value, a.hasValue = Number(0), true
		}
		a.value = Number(a.value.Num + v.Num)
	case "PRODUCT":
		if v.Kind != KindNumber {
			a.err = fmt.Errorf("PRODUCT requires a number, got %v", v.Kind)
			return
		}
		if !a.hasValue {
			a.value, a.hasValue = Number(1), true
		}
		a.value = Number(a.value.Num * v.Num)
	case "MIN":
		if v.Kind != KindNumber {
			a.err = fmt.Errorf("MIN requires a number, got %v", v.Kind)
			return
		}
		if !a.hasValue || v.Num < a.value.Num {
			a.value, a.hasValue = v, true
		}
	case "MAX":
		if v.Kind != KindNumber {
			a.err = fmt.Errorf("MAX requires a number, got %v", v.Kind)
			return
		}
		if !a.hasValue || v.Num > a.value.Num {
			a.value, a.hasValue = v, true
		}
	case "FIRST":
		if !a.hasValue {
			a.value, a.hasValue = v, true
		}
	case "LAST":
		a.value, a.hasValue = v, true
	}
}

// result produces the aggregator's flush output: a propagated error, or
// an explicit error for an empty input rather than silence (spec §8
// boundary case "AGGREGATE LAST(_) over an empty input yields one error
// value").
func (a *aggState) result() Value {
	if a.err != nil {
		return Error(a.err)
	}
	if !a.hasValue {
		return Errorf("query: %s over empty input", a.fn)
	}
	return a.value
}

type limitProc struct {
	n     int
	count int
}

func (p *limitProc) Apply(cx *EvalContext, input Value) []Value {
	if p.count >= p.n {
		return nil
	}
	p.count++
	return []Value{input}
}
func (p *limitProc) Flush(cx *EvalContext) []Value { return nil }
func (p *limitProc) IsDone(Order) bool             { return p.count >= p.n }
func (p *limitProc) PreferredOrder() Order          { return OrderUnspecified }

type letProc struct {
	name string
	expr Expr
}

func (p *letProc) Apply(cx *EvalContext, input Value) []Value {
	cx.Cur = input
	cx.Vars[p.name] = Eval(p.expr, cx)
	return []Value{input}
}
func (p *letProc) Flush(cx *EvalContext) []Value { return nil }
func (p *letProc) IsDone(Order) bool             { return false }
func (p *letProc) PreferredOrder() Order          { return OrderUnspecified }
