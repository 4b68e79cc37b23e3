package lgr

import (
	"log/slog"
	"path/filepath"

	"github.com/mdobak/go-xerrors"
)

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// Err attaches a stack trace to err, recorded at the call site.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}
	if len(xerrors.StackTrace(err)) == 0 {
		err = xerrors.New(err)
	}
	return slog.Any("error", err)
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if err, ok := a.Value.Any().(error); ok {
		a.Value = fmtErr(err)
	}
	return a
}

func fmtErr(err error) slog.Value {
	values := []slog.Attr{slog.String("msg", err.Error())}
	if frames := marshalStack(err); frames != nil {
		values = append(values, slog.Any("trace", frames))
	}
	return slog.GroupValue(values...)
}

func marshalStack(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}

	frames := trace.Frames()
	out := make([]stackFrame, len(frames))
	for i, f := range frames {
		out[i] = stackFrame{
			Source: filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)),
			Func:   filepath.Base(f.Function),
			Line:   f.Line,
		}
	}
	return out
}
