package api

import (
	"encoding/json"
	"net/http"
)

// ndjsonWriter streams one JSON value per line, flushing after each write so
// a client sees events as they happen rather than buffered until the
// response closes (spec §6 "NDJSON framing ... one JSON value per line").
type ndjsonWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	return &ndjsonWriter{w: w, f: f}
}

// writeLine marshals v and appends a trailing newline, flushing
// immediately. Returns the underlying write error so the caller can stop
// streaming once the client has gone away.
func (n *ndjsonWriter) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := n.w.Write(data); err != nil {
		return err
	}
	if n.f != nil {
		n.f.Flush()
	}
	return nil
}
