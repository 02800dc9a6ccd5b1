package opt

import (
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"tlog.app/go/errors"
)

type (
	// Trace is a dump of the function state around every pass.
	Trace struct {
		Version string      `json:"version" cbor:"1,keyasint"`
		Func    string      `json:"func" cbor:"2,keyasint"`
		Passes  []TracePass `json:"passes" cbor:"3,keyasint"`
	}

	TracePass struct {
		Name   string `json:"name" cbor:"1,keyasint"`
		Nanos  int64  `json:"nanos" cbor:"2,keyasint"`
		Before string `json:"before" cbor:"3,keyasint"`
		After  string `json:"after" cbor:"4,keyasint"`
	}
)

const (
	TraceVersion = "1.1.0"

	traceCompat = "^1.0"
)

// TraceInitialHIR is the first trace entry: the function as built,
// with the build time.
const TraceInitialHIR = "Initial HIR"

const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

var ErrTraceVersion = errors.New("incompatible trace version")

func NewTrace(fn string) *Trace {
	return &Trace{
		Version: TraceVersion,
		Func:    fn,
	}
}

func (t *Trace) Add(pass string, d time.Duration, before, after []byte) {
	t.Passes = append(t.Passes, TracePass{
		Name:   pass,
		Nanos:  d.Nanoseconds(),
		Before: string(before),
		After:  string(after),
	})
}

// Write encodes the trace in the given format.
func (t *Trace) Write(w io.Writer, format string) (err error) {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err = enc.Encode(t)
	case FormatCBOR:
		err = cbor.NewEncoder(w).Encode(t)
	default:
		return errors.New("unsupported trace format: %q", format)
	}

	if err != nil {
		return errors.Wrap(err, "encode %v", format)
	}

	return nil
}

// ReadTrace decodes a trace written by Write in any format.
func ReadTrace(r io.Reader) (*Trace, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	var t Trace

	if isJSON(data) {
		err = json.Unmarshal(data, &t)
	} else {
		err = cbor.Unmarshal(data, &t)
	}

	if err != nil {
		return nil, errors.Wrap(err, "decode trace")
	}

	v, err := semver.NewVersion(t.Version)
	if err != nil {
		return nil, errors.Wrap(err, "trace version %q", t.Version)
	}

	c, err := semver.NewConstraint(traceCompat)
	if err != nil {
		panic(err)
	}

	if !c.Check(v) {
		return nil, errors.Wrap(ErrTraceVersion, "%v, want %v", v, traceCompat)
	}

	return &t, nil
}

// TraceFile is the dump file path for the named callable.
func TraceFile(dir, fn, format string) string {
	if format == "" {
		format = FormatJSON
	}

	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '<', '>':
			return '_'
		}

		return r
	}, fn)

	return filepath.Join(dir, name+"."+format)
}

func isJSON(data []byte) bool {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}

		return c == '{'
	}

	return false
}
