package playback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPublishesActivity(t *testing.T) {
	tr := NewTracker(&memoryStore{}, quietLogger())
	ch := tr.Activity().Subscribe()
	defer tr.Activity().Unsubscribe(ch)

	_, err := tr.Open(context.Background(), film(4, 100), OpenRequest{Username: "alice"})
	require.NoError(t, err)

	select {
	case a := <-ch:
		assert.Equal(t, "alice", a.User)
		assert.Equal(t, "film.mkv", a.File)
		assert.Equal(t, "/library", a.Directory)
		assert.Equal(t, 4, a.MediaFileID)
	default:
		t.Fatal("expected an activity")
	}

	_, err = tr.Open(context.Background(), film(4, 100), OpenRequest{Username: "alice", Seek: "soon"})
	require.Error(t, err)
	assert.Empty(t, ch, "a rejected open publishes nothing")
}

func TestFeedDropsFullListeners(t *testing.T) {
	feed := NewFeed()
	slow := feed.Subscribe()
	fast := feed.Subscribe()

	for i := 0; i < 16; i++ {
		feed.Publish(Activity{MediaFileID: i})
		<-fast
	}
	assert.Equal(t, 2, feed.Subscribers())

	feed.Publish(Activity{MediaFileID: 99})
	assert.Equal(t, 1, feed.Subscribers())
	assert.Equal(t, 99, (<-fast).MediaFileID)

	drained := 0
	for range slow {
		drained++
	}
	assert.Equal(t, 16, drained, "buffered items stay readable after the listener is dropped")

	feed.Unsubscribe(slow)
	feed.Unsubscribe(fast)
	assert.Zero(t, feed.Subscribers())
	_, open := <-fast
	assert.False(t, open)
}
