package query

// Feeder drives one parsed query's stage pipeline over a stream of input
// values (spec §4.7 "Evaluation"). It holds one processor per stage and a
// single shared evaluation context — LET bindings accumulate into it across
// stages, and `_` is reassigned to each stage's input as values flow
// through.
type Feeder struct {
	procs []Processor
	cx    *EvalContext
	limit Order // the query's declared or overridden read order
}

// NewFeeder builds a Feeder for q, evaluating sub-queries (if any) via
// runSub.
func NewFeeder(q *Query, runSub SubQueryRunner) *Feeder {
	procs := make([]Processor, len(q.Stages))
	for i, s := range q.Stages {
		procs[i] = NewProcessor(s)
	}
	return &Feeder{
		procs: procs,
		cx:    &EvalContext{Vars: map[string]Value{}, RunSub: runSub},
		limit: q.Source.Order,
	}
}

// Feed pushes one input value through every stage in order, returning the
// zero-or-more outputs that reach the end of the pipeline.
func (f *Feeder) Feed(input Value) []Value {
	values := []Value{input}
	for _, proc := range f.procs {
		if len(values) == 0 {
			break
		}
		var next []Value
		for _, v := range values {
			next = append(next, proc.Apply(f.cx, v)...)
		}
		values = next
	}
	return values
}

// Flush runs every stage's terminal flush in order, chaining each stage's
// flush output through the remaining downstream stages (only a terminal
// AGGREGATE stage, always last per the grammar, actually produces anything
// today; the chaining is kept general for future non-terminal flush
// producers).
func (f *Feeder) Flush() []Value {
	var out []Value
	for i, proc := range f.procs {
		values := proc.Flush(f.cx)
		for j := i + 1; j < len(f.procs); j++ {
			if len(values) == 0 {
				break
			}
			var next []Value
			for _, v := range values {
				next = append(next, f.procs[j].Apply(f.cx, v)...)
			}
			values = next
		}
		out = append(out, values...)
	}
	return out
}

// IsDone reports whether any stage is terminal under order, letting the
// caller stop reading the source early (spec §4.7 "A feeder reports
// is_done when any stage is terminal under the current order").
func (f *Feeder) IsDone(order Order) bool {
	for _, proc := range f.procs {
		if proc.IsDone(order) {
			return true
		}
	}
	return false
}

// PreferredOrder resolves the pipeline's preferred read direction: if every
// stage that expresses a preference agrees, that direction is returned;
// otherwise OrderUnspecified, leaving the choice to the caller (or the
// source's own Asc/Desc override, which takes precedence).
func (f *Feeder) PreferredOrder() Order {
	if f.limit != OrderUnspecified {
		return f.limit
	}
	pref := OrderUnspecified
	for _, proc := range f.procs {
		o := proc.PreferredOrder()
		if o == OrderUnspecified {
			continue
		}
		if pref == OrderUnspecified {
			pref = o
		} else if pref != o {
			return OrderUnspecified
		}
	}
	return pref
}
