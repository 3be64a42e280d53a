package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/rink-registrations/internal/domain"
)

type response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *cliError   `json:"error,omitempty"`
}

type cliError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type output struct {
	format string
	w      io.Writer
	errW   io.Writer
}

// emit writes data as a JSON envelope, or calls text for the text format.
func (o *output) emit(data interface{}, text func(w io.Writer)) error {
	if o.format == "json" {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(response{Status: "ok", Data: data})
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func (o *output) failure(err error) {
	if o.format == "json" {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(response{Status: "error", Error: &cliError{Code: errorCode(err), Message: err.Error()}})
		return
	}
	fmt.Fprintf(o.errW, "error: %v\n", err)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidCapacity):
		return "invalid_capacity"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, domain.ErrCorruptRecord):
		return "corrupt_record"
	}
	return "error"
}
