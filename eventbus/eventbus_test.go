package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishSubscribeNoteUpdated(t *testing.T) {
	b := New()
	ch := b.SubscribeNoteUpdated(1)

	b.PublishNoteUpdated(NoteUpdated{UserID: 1, FileID: 2, FilePath: "/a.note"})

	select {
	case e := <-ch:
		assert.EqualValues(t, 2, e.FileID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_ = b.SubscribeNoteUpdated(0) // unbuffered, never read

	done := make(chan struct{})
	go func() {
		b.PublishNoteUpdated(NoteUpdated{FileID: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestNoteDeletedDelivery(t *testing.T) {
	b := New()
	ch := b.SubscribeNoteDeleted(1)
	b.PublishNoteDeleted(NoteDeleted{FileID: 5})

	select {
	case e := <-ch:
		assert.EqualValues(t, 5, e.FileID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}
