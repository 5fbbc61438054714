package regionfix

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// WorkerFault describes an unexpected failure inside a scan worker. It is
// plain data so it can cross from the worker to the coordinator encoded.
type WorkerFault struct {
	Kind    string   `msgpack:"kind"`
	Message string   `msgpack:"message"`
	Frames  []string `msgpack:"frames"`
	Path    string   `msgpack:"path"`
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// newWorkerFault captures v, a recovered panic value or an error, along
// with the stack it was raised on.
func newWorkerFault(path string, v interface{}) WorkerFault {
	var err error
	kind := "panic"
	switch x := v.(type) {
	case error:
		err = x
		if _, isRuntime := x.(interface{ RuntimeError() }); !isRuntime {
			kind = fmt.Sprintf("%T", errors.Cause(x))
		}
	default:
		err = fmt.Errorf("%v", x)
	}

	var st stackTracer
	if !errors.As(err, &st) {
		err = errors.WithStack(err)
		st = err.(stackTracer)
	}

	fault := WorkerFault{Kind: kind, Message: err.Error(), Path: path}
	for _, f := range st.StackTrace() {
		fault.Frames = append(fault.Frames, fmt.Sprintf("%n %s:%d", f, f, f))
	}
	return fault
}

func encodeFault(f WorkerFault) []byte {
	b, err := msgpack.Marshal(&f)
	if err != nil {
		// Cannot happen for this struct; keep the message at least.
		b, _ = msgpack.Marshal(&WorkerFault{Kind: "encode", Message: f.Message, Path: f.Path})
	}
	return b
}

func decodeFault(b []byte) (WorkerFault, error) {
	var f WorkerFault
	err := msgpack.Unmarshal(b, &f)
	return f, errors.Wrap(err, "decode worker fault")
}

// ChildProcessError is returned by the coordinator when a worker failed.
// Partial is the *ScannedContainer or *ScannedDataFile as far as the
// worker got, or nil.
type ChildProcessError struct {
	Fault   WorkerFault
	Partial interface{}
}

func (e *ChildProcessError) Error() string {
	return fmt.Sprintf("scan worker failed on %s: %s: %s", e.Fault.Path, e.Fault.Kind, e.Fault.Message)
}

// Trace returns the worker's stack, one frame per line.
func (e *ChildProcessError) Trace() string {
	return strings.Join(e.Fault.Frames, "\n")
}
