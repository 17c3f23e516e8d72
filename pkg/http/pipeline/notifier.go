package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/core/logger"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/offline"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

// NotificationKind is the user-visible event type.
type NotificationKind string

const (
	// NotificationPending: the action was saved and will be sent when online.
	NotificationPending NotificationKind = "pending"
	// NotificationReplayed: a queued action reached the server.
	NotificationReplayed NotificationKind = "replayed"
	// NotificationFailed: a queued action was given up on.
	NotificationFailed NotificationKind = "failed"
	// NotificationSessionExpired: the user has to sign in again.
	NotificationSessionExpired NotificationKind = "session_expired"
)

type Notification struct {
	Kind    NotificationKind
	Method  string
	URL     string
	Message string
}

// Notifier surfaces pipeline events to the user. The UI layer implements it;
// the default only logs.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

type logNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a Notifier that only logs. A request-scoped logger in
// ctx takes precedence over log.
func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.With(zap.String("component", "notifier"))}
}

func (n *logNotifier) Notify(ctx context.Context, note Notification) {
	log := n.log
	if l, ok := logger.FromContext(ctx); ok {
		log = l
	}
	log.Info(note.Message,
		zap.String("notification", string(note.Kind)),
		zap.String("method", note.Method),
		zap.String("url", note.URL))
}

func notification(kind NotificationKind, d request.Descriptor, msg string) Notification {
	return Notification{Kind: kind, Method: d.Method, URL: d.URL, Message: msg}
}

// ReplayNotifications returns offline queue options that tell n about
// replayed and abandoned requests.
func ReplayNotifications(n Notifier) []offline.Option {
	return []offline.Option{
		offline.OnReplaySuccess(func(q offline.QueuedRequest, _ *request.Response) {
			n.Notify(context.Background(), notification(NotificationReplayed, q.Descriptor, "Queued change was saved"))
		}),
		offline.OnReplayFailure(func(q offline.QueuedRequest, _ error) {
			n.Notify(context.Background(), notification(NotificationFailed, q.Descriptor, "Queued change could not be saved"))
		}),
	}
}
