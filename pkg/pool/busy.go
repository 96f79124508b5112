package pool

import "context"

type workerKey struct{}

// WithWorker attaches a worker to ctx so code downstream of the pool can
// signal blocking spans through Busy.
func WithWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, workerKey{}, w)
}

// FromContext returns the worker attached to ctx, if any.
func FromContext(ctx context.Context) (*Worker, bool) {
	if ctx == nil {
		return nil, false
	}
	w, ok := ctx.Value(workerKey{}).(*Worker)
	return w, ok
}

// Busy runs fn, marking the surrounding pool iteration as blocking when
// ctx carries a worker. Outside any pool it simply runs fn inline, so
// filesystem code can call it unconditionally before slow I/O.
func Busy(ctx context.Context, fn func()) {
	if w, ok := FromContext(ctx); ok {
		w.Busy(fn)
		return
	}
	fn()
}
