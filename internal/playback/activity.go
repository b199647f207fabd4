package playback

import (
	"sync"
	"time"
)

// Activity announces that a user opened a media file for watching.
type Activity struct {
	User        string    `json:"user"`
	File        string    `json:"file"`
	Directory   string    `json:"directory"`
	MediaFileID int       `json:"mediaFileId"`
	At          time.Time `json:"at"`
}

// Feed fans watch activity out to live subscribers.
type Feed struct {
	mu        sync.Mutex
	listeners []chan Activity
}

// NewFeed creates a Feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{}
}

// Subscribe adds a listener for activity.
func (f *Feed) Subscribe() <-chan Activity {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Activity, 16)
	f.listeners = append(f.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener. Unknown listeners are ignored.
func (f *Feed) Unsubscribe(ch <-chan Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, listener := range f.listeners {
		if listener == ch {
			close(listener)
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers a to every listener without blocking. A listener whose
// buffer is full is dropped and its channel closed.
func (f *Feed) Publish(a Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.listeners[:0]
	for _, listener := range f.listeners {
		select {
		case listener <- a:
			kept = append(kept, listener)
		default:
			close(listener)
		}
	}
	for i := len(kept); i < len(f.listeners); i++ {
		f.listeners[i] = nil
	}
	f.listeners = kept
}

// Subscribers reports how many listeners are attached.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}
