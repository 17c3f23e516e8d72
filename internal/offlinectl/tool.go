// Package offlinectl implements the maintenance commands for a persisted
// offline queue: listing it, clearing it and replaying it by hand.
package offlinectl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/offline"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence"
)

// ErrReplayDisabled is returned by the replay function of a read-only Tool.
var ErrReplayDisabled = errors.New("replay is not enabled for this command")

// Tool operates on the queue record kept in a store.
type Tool struct {
	queue *offline.Queue
	out   io.Writer
}

// New loads the queue from store. With a nil replay function the Tool can
// list and clear but every replay attempt fails with ErrReplayDisabled.
// opts are passed on to the queue after the logger.
func New(ctx context.Context, store persistence.Store, replay offline.ReplayFunc, cfg offline.Config, log *zap.Logger, out io.Writer, opts ...offline.Option) (*Tool, error) {
	if replay == nil {
		replay = func(context.Context, request.Descriptor) (*request.Response, error) {
			return nil, ErrReplayDisabled
		}
	}
	queueOpts := append([]offline.Option{offline.WithLogger(log), offline.WithOnline(true)}, opts...)
	q, err := offline.New(ctx, store, replay, cfg, queueOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load offline queue: %w", err)
	}
	return &Tool{queue: q, out: out}, nil
}

// List prints the queue in replay order.
func (t *Tool) List() error {
	items := t.queue.Items()
	if len(items) == 0 {
		_, err := fmt.Fprintln(t.out, "offline queue is empty")
		return err
	}

	w := tabwriter.NewWriter(t.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMETHOD\tURL\tENQUEUED\tRETRIES")
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			item.ID,
			item.Descriptor.Method,
			item.Descriptor.URL,
			item.EnqueuedAt.UTC().Format(time.RFC3339),
			item.RetryCount,
		)
	}
	return w.Flush()
}

// Clear drops every queued request.
func (t *Tool) Clear(ctx context.Context) error {
	n := t.queue.Size()
	if err := t.queue.Clear(ctx); err != nil {
		return err
	}
	_, err := fmt.Fprintf(t.out, "removed %d queued request(s)\n", n)
	return err
}

// Replay runs one replay pass and prints its summary.
func (t *Tool) Replay(ctx context.Context) error {
	res, err := t.queue.Replay(ctx)
	_, _ = fmt.Fprintf(t.out, "attempted %d, succeeded %d, requeued %d, dropped %d, remaining %d\n",
		res.Attempted, res.Succeeded, res.Requeued, res.Dropped, t.queue.Size())
	return err
}
