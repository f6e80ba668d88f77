package syncer

import "log/slog"

// Notifier surfaces repeated sync failures to the user.
type Notifier interface {
	Notify(err error)
}

type NotifierFunc func(err error)

func (f NotifierFunc) Notify(err error) {
	f(err)
}

type LogNotifier struct{}

func (LogNotifier) Notify(err error) {
	slog.Error("session sync failing, changes are kept locally and will be retried", "err", err)
}
