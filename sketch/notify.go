package sketch

import "log/slog"

// NoticeKind tells success from failure.
type NoticeKind int

const (
	NoticeSuccess NoticeKind = iota
	NoticeFailure
)

// Notice is the user-facing outcome of an export operation.
type Notice struct {
	Kind    NoticeKind
	Op      string // "submit", "samples", "label"
	Message string
	Err     error
}

// Notifier receives export outcomes. It is called without the session
// lock held, so it may call back into the Session.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier reports notices through l: failures at warn, successes at info.
func LogNotifier(l *slog.Logger) Notifier {
	return NotifierFunc(func(n Notice) {
		if n.Kind == NoticeFailure {
			l.Warn(n.Message, "op", n.Op, "error", n.Err)
			return
		}
		l.Info(n.Message, "op", n.Op)
	})
}
