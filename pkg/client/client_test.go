package client

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/lifecycle"
	"github.com/droverd/drover/pkg/queue"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := api.NewServer(api.Options{
		Store:    store,
		Registry: registry.NewService(nil, 10*time.Minute),
		Sessions: lifecycle.NewService(nil, 4*time.Hour),
		Queues:   queue.NewService(store, nil),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, "")
}

func TestClientEnrollAndPoll(t *testing.T) {
	c := newTestClient(t)

	r, err := c.EnrollResource(EnrollRequest{FQDN: "bot-01.corp", Name: "bot-01", Capabilities: "python"})
	require.NoError(t, err)
	assert.True(t, r.Available)

	_, err = c.SessionByResource(r.ID)
	assert.ErrorIs(t, err, ErrNoContent)

	require.NoError(t, c.PingResource(r.ID))
	require.NoError(t, c.DetachResource(r.ID))
}

func TestClientWorkqueueRoundTrip(t *testing.T) {
	c := newTestClient(t)

	q, err := c.CreateWorkqueue(&types.Workqueue{Name: "invoices", Enabled: true})
	require.NoError(t, err)

	_, err = c.ClaimNextItem(q.ID)
	assert.ErrorIs(t, err, ErrNoContent)

	added, err := c.AddWorkItem(q.ID, `{"invoice":7}`, "INV-7")
	require.NoError(t, err)

	item, err := c.ClaimNextItem(q.ID)
	require.NoError(t, err)
	assert.Equal(t, added.ID, item.ID)
	assert.True(t, item.Locked)

	done, err := c.UpdateWorkItemStatus(item.ID, types.WorkItemStatusCompleted, "ok")
	require.NoError(t, err)
	assert.False(t, done.Locked)

	info, err := c.WorkqueueInfo(q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Completed)
}

func TestClientServerErrorsSurface(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetProcess("no-such-process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
