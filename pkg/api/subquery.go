package api

import (
	"context"
	"fmt"

	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/query"
)

// newSubQueryRunner builds the query.SubQueryRunner a Feeder invokes for a
// `(FROM ...)` sub-query expression (spec §4.7). A sub-query always reads
// a fresh bounded snapshot up to the store's current present offsets —
// never live — since it must finish before the expression containing it
// can produce a value.
func newSubQueryRunner(store *eventstore.Store, node nodeid.NodeID) query.SubQueryRunner {
	var run query.SubQueryRunner
	run = func(sub *query.Query, cx *query.EvalContext) ([]query.Value, error) {
		isLocal := func(s nodeid.StreamID) bool { return s.Node == node }

		var values []query.Value
		switch sub.Source.Kind {
		case query.SourceLiteral:
			lit := query.Eval(sub.Source.Literal, &query.EvalContext{Vars: map[string]query.Value{}, RunSub: run})
			if lit.IsError() {
				return nil, fmt.Errorf("axcore: sub-query literal source: %v", lit.Err)
			}
			values = lit.Arr
		default:
			present, _ := store.Offsets()
			q := eventstore.BoundedQuery{
				Tags:    sub.Source.DNF,
				ToIncl:  present,
				IsLocal: isLocal,
			}
			var err error
			if sub.Source.Order == query.OrderDesc {
				err = store.BoundedBackward(context.Background(), q, func(e event.Event) (bool, error) {
					values = append(values, query.EventValue(e))
					return true, nil
				})
			} else {
				err = store.BoundedForward(context.Background(), q, func(e event.Event) (bool, error) {
					values = append(values, query.EventValue(e))
					return true, nil
				})
			}
			if err != nil {
				return nil, fmt.Errorf("axcore: sub-query: %w", err)
			}
		}

		feeder := query.NewFeeder(sub, run)
		order := feeder.PreferredOrder()
		var out []query.Value
		for _, v := range values {
			out = append(out, feeder.Feed(v)...)
			if feeder.IsDone(order) {
				break
			}
		}
		out = append(out, feeder.Flush()...)
		return out, nil
	}
	return run
}
