package query

import "github.com/edgemesh/axcore/pkg/event"

// EventValue is the `_` value an event contributes to a feeder: its decoded
// payload. Tag/app-id/locality matching already happened against the
// source's DNF before the event ever reaches the pipeline (spec §4.3/§4.4);
// the stage language only ever sees payload data.
func EventValue(e event.Event) Value {
	return FromCBOR(e.Payload)
}
