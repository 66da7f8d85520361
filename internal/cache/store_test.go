package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-sync/internal/model"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset int) model.Message {
	return model.Message{
		ID:        id,
		ThreadKey: model.ConversationThread("c1"),
		SenderID:  "u1",
		Type:      model.MessageText,
		Content:   model.StringPtr("body " + id),
		CreatedAt: base.Add(time.Duration(offset) * time.Second),
	}
}

func ids(view model.ThreadView) []string {
	out := make([]string, 0, len(view.Messages))
	for _, m := range view.Messages {
		out = append(out, m.ID)
	}
	return out
}

func TestOpenBuildsChronologicalView(t *testing.T) {
	s := NewStore()
	key := model.ConversationThread("c1")

	require.True(t, s.Open(key, []model.Message{msg("m1", 1), msg("m2", 2), msg("m3", 3)}, true))

	view, ok := s.View(key)
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(view))
	assert.True(t, view.HasMoreOlder)
	assert.False(t, view.IsLoadingOlder)

	// A second open must not clobber the cached state.
	assert.False(t, s.Open(key, nil, false))
	view, _ = s.View(key)
	assert.Len(t, view.Messages, 3)
}

func TestUpdateUncachedThread(t *testing.T) {
	s := NewStore()
	called := false
	ok := s.Update(model.DirectThread("u9"), func(*Thread) bool {
		called = true
		return true
	})
	assert.False(t, ok)
	assert.False(t, called)
	assert.False(t, s.Has(model.DirectThread("u9")))
}

func TestInsertNewestKeepsOrder(t *testing.T) {
	s := NewStore()
	key := model.ConversationThread("c1")
	s.Open(key, []model.Message{msg("a", 1), msg("c", 5)}, false)

	s.Update(key, func(th *Thread) bool {
		m := msg("b", 3)
		th.InsertNewest(&m)
		return true
	})
	s.Update(key, func(th *Thread) bool {
		m := msg("d", 5)
		th.InsertNewest(&m)
		return true
	})

	view, _ := s.View(key)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(view))
}

func TestReplaceInPlaceDropsDuplicate(t *testing.T) {
	s := NewStore()
	key := model.ConversationThread("c1")
	s.Open(key, []model.Message{msg("m1", 1), msg("temp-1-x", 2), msg("m3", 3)}, false)

	s.Update(key, func(th *Thread) bool {
		m := msg("m3", 2)
		return th.ReplaceInPlace("temp-1-x", &m)
	})

	view, _ := s.View(key)
	assert.Equal(t, []string{"m1", "m3"}, ids(view))
	assert.Equal(t, base.Add(2*time.Second), view.Messages[1].CreatedAt)
}

func TestTombstoneKeepsPosition(t *testing.T) {
	s := NewStore()
	key := model.InternalThread()
	s.Open(key, []model.Message{msg("m1", 1), msg("m2", 2), msg("m3", 3)}, false)

	var changed bool
	s.Update(key, func(th *Thread) bool {
		changed = th.Tombstone("m2", base)
		return changed
	})
	assert.True(t, changed)

	s.Update(key, func(th *Thread) bool {
		changed = th.Tombstone("m2", base.Add(time.Hour))
		return changed
	})
	assert.False(t, changed)

	view, _ := s.View(key)
	require.Equal(t, []string{"m1", "m2", "m3"}, ids(view))
	assert.Nil(t, view.Messages[1].Content)
	require.NotNil(t, view.Messages[1].DeletedAt)
	assert.Equal(t, base, *view.Messages[1].DeletedAt)
}

func TestAppendOlderPage(t *testing.T) {
	s := NewStore()
	key := model.ConversationThread("c1")
	s.Open(key, []model.Message{msg("m5", 5), msg("m6", 6)}, true)

	var cursor string
	var claimed bool
	s.Update(key, func(th *Thread) bool {
		cursor, claimed = th.BeginLoadOlder()
		return claimed
	})
	require.True(t, claimed)
	assert.Equal(t, "m5", cursor)

	view, _ := s.View(key)
	assert.True(t, view.IsLoadingOlder)

	// A second claim while loading is refused.
	s.Update(key, func(th *Thread) bool {
		_, claimed = th.BeginLoadOlder()
		return claimed
	})
	assert.False(t, claimed)

	var added int
	s.Update(key, func(th *Thread) bool {
		added = th.AppendOlderPage(cursor, []model.Message{msg("m3", 3), msg("m4", 4), msg("m5", 5)}, false)
		return true
	})
	assert.Equal(t, 2, added)

	view, _ = s.View(key)
	assert.Equal(t, []string{"m3", "m4", "m5", "m6"}, ids(view))
	assert.False(t, view.IsLoadingOlder)
	assert.False(t, view.HasMoreOlder)

	// The same cursor is never applied twice.
	s.Update(key, func(th *Thread) bool {
		added = th.AppendOlderPage(cursor, []model.Message{msg("m1", 1)}, true)
		return added > 0
	})
	assert.Equal(t, 0, added)
}

func TestOldestIDSkipsProvisional(t *testing.T) {
	th := newThread(model.ConversationThread("c1"))
	p := msg("temp-1-a", 0)
	th.InsertNewest(&p)
	assert.Equal(t, "", th.OldestID())

	m := msg("m2", 2)
	th.InsertNewest(&m)
	assert.Equal(t, "m2", th.OldestID())
}

func TestMarkRead(t *testing.T) {
	th := newThread(model.ConversationThread("c1"))
	for _, m := range []model.Message{msg("m1", 1), msg("m2", 2), msg("temp-3-x", 3)} {
		m := m
		m.Status = model.StatusSent
		th.InsertNewest(&m)
	}

	assert.Equal(t, 1, th.MarkRead("u1", base.Add(time.Second)))
	assert.Equal(t, model.StatusRead, th.Get("m1").Status)
	assert.Equal(t, model.StatusSent, th.Get("m2").Status)

	assert.Equal(t, 1, th.MarkRead("u1", base.Add(time.Minute)))
	assert.Equal(t, model.StatusSent, th.Get("temp-3-x").Status)
	assert.Equal(t, 0, th.MarkRead("someone-else", base.Add(time.Minute)))
}

func TestClear(t *testing.T) {
	s := NewStore()
	key := model.AdminThread("p1")
	s.Open(key, []model.Message{msg("m1", 1), msg("m2", 2)}, true)
	s.Update(key, func(th *Thread) bool {
		th.IncrementUnread()
		th.Clear()
		return true
	})

	view, ok := s.View(key)
	require.True(t, ok)
	assert.Empty(t, view.Messages)
	assert.Zero(t, view.Unread)
	assert.False(t, view.HasMoreOlder)
}

func TestWatchCoalesces(t *testing.T) {
	s := NewStore()
	key := model.ConversationThread("c1")
	ch, cancel := s.Watch(key)
	defer cancel()

	s.Open(key, nil, false)
	s.Update(key, func(th *Thread) bool {
		th.IncrementUnread()
		return true
	})
	s.Update(key, func(*Thread) bool { return false })

	select {
	case <-ch:
	default:
		t.Fatal("expected a notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}

	cancel()
	s.Touch(key)
	select {
	case <-ch:
		t.Fatal("cancelled watcher notified")
	default:
	}
}

func TestDropAndReset(t *testing.T) {
	s := NewStore()
	s.Open(model.ConversationThread("c1"), nil, false)
	s.Open(model.InternalThread(), nil, false)
	s.Open(model.DirectThread("u2"), nil, false)

	assert.Equal(t, []model.ThreadKey{
		model.ConversationThread("c1"),
		model.DirectThread("u2"),
		model.InternalThread(),
	}, s.Keys())

	assert.True(t, s.Drop(model.InternalThread()))
	assert.False(t, s.Drop(model.InternalThread()))

	s.Reset()
	assert.Empty(t, s.Keys())
}
