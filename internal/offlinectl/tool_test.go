package offlinectl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/offline"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence/memory"
)

func seed(t *testing.T, store *memory.Store, urls ...string) {
	t.Helper()
	var n atomic.Int64
	q, err := offline.New(context.Background(), store,
		func(context.Context, request.Descriptor) (*request.Response, error) { return nil, nil },
		offline.Config{},
		offline.WithIDGenerator(func() string { return fmt.Sprintf("req-%d", n.Add(1)) }),
	)
	require.NoError(t, err)
	for _, u := range urls {
		ok, err := q.Enqueue(context.Background(), request.MustNew(http.MethodPost, u, request.WithBody(map[string]string{"u": u})))
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestTool_List(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "/orders", "/carts/1")

	var out bytes.Buffer
	tool, err := New(context.Background(), store, nil, offline.Config{}, zap.NewNop(), &out)
	require.NoError(t, err)

	require.NoError(t, tool.List())
	text := out.String()
	assert.Contains(t, text, "ID")
	assert.Contains(t, text, "req-1")
	assert.Contains(t, text, "/orders")
	assert.Contains(t, text, "req-2")
	assert.Contains(t, text, "/carts/1")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("req-1")), bytes.Index(out.Bytes(), []byte("req-2")))
}

func TestTool_ListEmpty(t *testing.T) {
	var out bytes.Buffer
	tool, err := New(context.Background(), memory.NewStore(), nil, offline.Config{}, zap.NewNop(), &out)
	require.NoError(t, err)

	require.NoError(t, tool.List())
	assert.Equal(t, "offline queue is empty\n", out.String())
}

func TestTool_Clear(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "/orders", "/carts/1")

	var out bytes.Buffer
	tool, err := New(context.Background(), store, nil, offline.Config{}, zap.NewNop(), &out)
	require.NoError(t, err)

	require.NoError(t, tool.Clear(context.Background()))
	assert.Equal(t, "removed 2 queued request(s)\n", out.String())

	_, err = store.Get(context.Background(), offline.DefaultStorageKey)
	assert.Error(t, err)
}

func TestTool_Replay(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "/orders", "/carts/1")

	var sent []string
	replay := func(_ context.Context, d request.Descriptor) (*request.Response, error) {
		sent = append(sent, d.URL)
		return &request.Response{StatusCode: http.StatusCreated}, nil
	}

	var out bytes.Buffer
	tool, err := New(context.Background(), store, replay, offline.Config{}, zap.NewNop(), &out)
	require.NoError(t, err)

	require.NoError(t, tool.Replay(context.Background()))
	assert.Equal(t, []string{"/orders", "/carts/1"}, sent)
	assert.Equal(t, "attempted 2, succeeded 2, requeued 0, dropped 0, remaining 0\n", out.String())
}

func TestTool_ReplayDisabledRequeues(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "/orders")

	var out bytes.Buffer
	tool, err := New(context.Background(), store, nil, offline.Config{}, zap.NewNop(), &out)
	require.NoError(t, err)

	err = tool.Replay(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "requeued 1")
	assert.Contains(t, out.String(), "remaining 1")
}
