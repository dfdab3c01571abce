package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-client/internal/domain/message"
	"sentinal-client/internal/remote/remotetest"
	sentinal_errors "sentinal-client/pkg/errors"
)

type blockingCursor struct {
	started chan struct{}
	release chan struct{}
}

func (c *blockingCursor) Next(ctx context.Context, limit int) ([]message.Message, bool, error) {
	close(c.started)
	<-c.release
	return make([]message.Message, limit), false, nil
}

func seed(link *remotetest.Link, n int) {
	for i := 0; i < n; i++ {
		link.Seed("c1", message.Message{
			ID:        fmt.Sprintf("m%03d", i),
			SenderID:  "u2",
			Body:      message.Body{Text: "x"},
			CreatedAt: int64(1_700_000_000_000 + i*1000),
		})
	}
}

func TestLoadOlderPagesBackwards(t *testing.T) {
	ctx := context.Background()
	link := remotetest.NewLink("u1", nil)
	seed(link, 25)

	recent, cur, err := link.FetchRecent(ctx, "c1", 10)
	require.NoError(t, err)
	p := New(cur, 10, len(recent))

	page, exhausted, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.False(t, exhausted)
	require.Len(t, page, 10)
	assert.Equal(t, "m005", page[0].ID)

	page, exhausted, err = p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.Len(t, page, 5)
	assert.True(t, p.Exhausted())

	pages := link.Pages
	page, exhausted, err = p.LoadOlder(ctx)
	assert.NoError(t, err)
	assert.True(t, exhausted)
	assert.Nil(t, page)
	assert.Equal(t, pages, link.Pages, "no I/O once exhausted")
}

func TestShortFirstPageIsExhausted(t *testing.T) {
	ctx := context.Background()
	link := remotetest.NewLink("u1", nil)
	seed(link, 3)

	recent, cur, err := link.FetchRecent(ctx, "c1", 10)
	require.NoError(t, err)
	p := New(cur, 10, len(recent))

	assert.True(t, p.Exhausted())
	_, exhausted, err := p.LoadOlder(ctx)
	assert.NoError(t, err)
	assert.True(t, exhausted)
	assert.Zero(t, link.Pages)
}

func TestLoadOlderAtMostOneInFlight(t *testing.T) {
	cur := &blockingCursor{started: make(chan struct{}), release: make(chan struct{})}
	p := New(cur, 5, 5)

	done := make(chan error, 1)
	go func() {
		_, _, err := p.LoadOlder(context.Background())
		done <- err
	}()
	<-cur.started
	assert.True(t, p.Loading())

	_, _, err := p.LoadOlder(context.Background())
	assert.ErrorIs(t, err, sentinal_errors.ErrBusy)

	close(cur.release)
	require.NoError(t, <-done)
	assert.False(t, p.Loading())
	assert.False(t, p.Exhausted())
}

func TestLoadOlderErrorCanBeRetried(t *testing.T) {
	ctx := context.Background()
	link := remotetest.NewLink("u1", nil)
	seed(link, 20)
	recent, cur, err := link.FetchRecent(ctx, "c1", 10)
	require.NoError(t, err)
	p := New(cur, 10, len(recent))

	boom := errors.New("offline")
	link.FailPages(boom)
	_, _, err = p.LoadOlder(ctx)
	assert.ErrorIs(t, err, boom)
	assert.False(t, p.Exhausted())

	page, exhausted, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Len(t, page, 10)
	assert.True(t, exhausted)
}
