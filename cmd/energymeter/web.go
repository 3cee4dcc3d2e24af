package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mtraver/energy-meter/sensor"
	"github.com/mtraver/energy-meter/sink"
)

const dumpTimeout = 5 * time.Second

type dumper interface {
	Dump(w io.Writer)
}

type caller interface {
	Call(ctx context.Context, fn func()) error
}

// indexHandler describes the meter, its configuration and the latest
// reading of every sensor.
type indexHandler struct {
	deviceID string
	dev      dumper
	loop     caller
	status   *sink.Status
}

func (h indexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dumpTimeout)
	defer cancel()

	// The driver is owned by the loop, so the dump has to run there.
	var buf bytes.Buffer
	if err := h.loop.Call(ctx, func() { h.dev.Dump(&buf) }); err != nil {
		http.Error(w, fmt.Sprintf("failed to read device state: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Device: %s\n\n", h.deviceID)
	w.Write(buf.Bytes())

	fmt.Fprintf(w, "\nLatest readings:\n")
	for _, reading := range h.status.Latest() {
		fmt.Fprintf(w, "  %s (%s)\n", reading, reading.Time.Format(time.RFC3339))
	}
}

// sensorsHandler lists the current state of every registered sensor.
type sensorsHandler struct{}

func (sensorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, name := range sensor.Names() {
		s, err := sensor.Get(name)
		if err != nil {
			continue
		}
		v, at := s.State()
		if at.IsZero() {
			fmt.Fprintf(w, "%s: no reading\n", s)
			continue
		}
		fmt.Fprintf(w, "%s: %g at %s\n", s, v, at.Format(time.RFC3339))
	}
}

func newMux(h indexHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", h)
	mux.Handle("/sensors", sensorsHandler{})
	return mux
}
