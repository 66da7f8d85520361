// Package cache holds the paginated per-thread message cache.
package cache

import (
	"time"

	"github.com/capitalize-ai/support-sync/internal/model"
)

// Thread is one cached thread. Pages are stored newest-first: page 0 holds
// the most recent messages and each page is itself ordered newest-first.
//
// A Thread is only ever touched inside Store.Update or Store.Open, which
// hold the store lock for the whole patch.
type Thread struct {
	key          model.ThreadKey
	pages        [][]*model.Message
	unread       int
	loadingOlder bool
	hasMoreOlder bool
	fetched      map[string]bool
	version      uint64
	epoch        uint64
}

func newThread(key model.ThreadKey) *Thread {
	return &Thread{
		key:     key,
		pages:   [][]*model.Message{{}},
		fetched: make(map[string]bool),
	}
}

// Key returns the thread key.
func (t *Thread) Key() model.ThreadKey { return t.key }

// Version increases by one for every committed change.
func (t *Thread) Version() uint64 { return t.version }

// Len returns the number of cached messages.
func (t *Thread) Len() int {
	n := 0
	for _, page := range t.pages {
		n += len(page)
	}
	return n
}

// Epoch changes every time the thread is cleared. A fetch started in one
// epoch must not land in another.
func (t *Thread) Epoch() uint64 { return t.epoch }

// PageCount returns the number of pages held.
func (t *Thread) PageCount() int { return len(t.pages) }

func (t *Thread) locate(id string) (int, int, bool) {
	for p, page := range t.pages {
		for i, msg := range page {
			if msg.ID == id {
				return p, i, true
			}
		}
	}
	return 0, 0, false
}

// Get returns the cached message with id, or nil.
func (t *Thread) Get(id string) *model.Message {
	p, i, ok := t.locate(id)
	if !ok {
		return nil
	}
	return t.pages[p][i]
}

// Contains reports whether a message with id is cached.
func (t *Thread) Contains(id string) bool {
	_, _, ok := t.locate(id)
	return ok
}

// InsertNewest places msg into page 0 at its chronological position. A
// message with an equal timestamp goes after the ones already cached.
func (t *Thread) InsertNewest(msg *model.Message) {
	page := t.pages[0]
	pos := len(page)
	for i, existing := range page {
		if !existing.CreatedAt.After(msg.CreatedAt) {
			pos = i
			break
		}
	}
	page = append(page, nil)
	copy(page[pos+1:], page[pos:])
	page[pos] = msg
	t.pages[0] = page
}

// ReplaceInPlace swaps the entry oldID for msg without moving it. Any other
// entry already carrying msg.ID is dropped in the same patch so the id
// never appears twice.
func (t *Thread) ReplaceInPlace(oldID string, msg *model.Message) bool {
	p, i, ok := t.locate(oldID)
	if !ok {
		return false
	}
	t.pages[p][i] = msg
	if oldID == msg.ID {
		return true
	}
	for dp, page := range t.pages {
		for di, existing := range page {
			if existing.ID == msg.ID && !(dp == p && di == i) {
				t.pages[dp] = append(page[:di], page[di+1:]...)
				return true
			}
		}
	}
	return true
}

// Remove physically drops a message. Only used to revert optimistic sends.
func (t *Thread) Remove(id string) bool {
	p, i, ok := t.locate(id)
	if !ok {
		return false
	}
	t.pages[p] = append(t.pages[p][:i], t.pages[p][i+1:]...)
	return true
}

// Tombstone marks a message deleted, keeping it in place.
func (t *Thread) Tombstone(id string, at time.Time) bool {
	msg := t.Get(id)
	if msg == nil || msg.Tombstoned() {
		return false
	}
	msg.DeletedAt = &at
	return true
}

// ApplyReaction merges a reaction into the message's set.
func (t *Thread) ApplyReaction(id string, r model.Reaction, added bool) (found, changed bool) {
	msg := t.Get(id)
	if msg == nil {
		return false, false
	}
	return true, msg.ApplyReaction(r, added)
}

// MarkRead moves senderID's confirmed messages created at or before upTo
// from SENT to READ. It returns the number of messages changed.
func (t *Thread) MarkRead(senderID string, upTo time.Time) int {
	n := 0
	for _, page := range t.pages {
		for _, msg := range page {
			if msg.SenderID != senderID || msg.Provisional() || msg.Status == model.StatusRead {
				continue
			}
			if msg.CreatedAt.After(upTo) {
				continue
			}
			msg.Status = model.StatusRead
			n++
		}
	}
	return n
}

// OldestID returns the id of the oldest confirmed message, used as the
// cursor for the next older page.
func (t *Thread) OldestID() string {
	for p := len(t.pages) - 1; p >= 0; p-- {
		page := t.pages[p]
		for i := len(page) - 1; i >= 0; i-- {
			if !page[i].Provisional() {
				return page[i].ID
			}
		}
	}
	return ""
}

// BeginLoadOlder claims the next older-page fetch. It returns false when a
// fetch is already running, nothing older exists, or the cursor was already
// fetched.
func (t *Thread) BeginLoadOlder() (string, bool) {
	if t.loadingOlder || !t.hasMoreOlder {
		return "", false
	}
	cursor := t.OldestID()
	if cursor == "" || t.fetched[cursor] {
		return "", false
	}
	t.loadingOlder = true
	return cursor, true
}

// AbortLoadOlder releases a claim taken by BeginLoadOlder after a failure.
func (t *Thread) AbortLoadOlder() {
	t.loadingOlder = false
}

// AppendOlderPage appends messages (oldest-first, as the server returns
// them) as a new page after the ones held. Ids already cached are skipped.
// It returns the number of messages added.
func (t *Thread) AppendOlderPage(cursor string, msgs []model.Message, hasMore bool) int {
	t.loadingOlder = false
	if t.fetched[cursor] {
		return 0
	}
	t.fetched[cursor] = true
	t.hasMoreOlder = hasMore

	page := make([]*model.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if t.Contains(msgs[i].ID) || containsID(page, msgs[i].ID) {
			continue
		}
		page = append(page, msgs[i].Clone())
	}
	if len(page) == 0 {
		return 0
	}
	t.pages = append(t.pages, page)
	return len(page)
}

func containsID(page []*model.Message, id string) bool {
	for _, msg := range page {
		if msg.ID == id {
			return true
		}
	}
	return false
}

// Clear empties the whole thread in one operation.
func (t *Thread) Clear() {
	t.pages = [][]*model.Message{{}}
	t.unread = 0
	t.hasMoreOlder = false
	t.loadingOlder = false
	t.fetched = make(map[string]bool)
	t.epoch++
}

// Unread returns the unread counter.
func (t *Thread) Unread() int { return t.unread }

// IncrementUnread bumps the unread counter.
func (t *Thread) IncrementUnread() { t.unread++ }

// ResetUnread zeroes the unread counter and reports whether it changed.
func (t *Thread) ResetUnread() bool {
	if t.unread == 0 {
		return false
	}
	t.unread = 0
	return true
}

// IsLoadingOlder reports whether an older-page fetch is in flight.
func (t *Thread) IsLoadingOlder() bool { return t.loadingOlder }

// HasMoreOlder reports whether older pages exist on the server.
func (t *Thread) HasMoreOlder() bool { return t.hasMoreOlder }

// Messages flattens the pages into chronological order.
func (t *Thread) Messages() []model.Message {
	out := make([]model.Message, 0, t.Len())
	for p := len(t.pages) - 1; p >= 0; p-- {
		page := t.pages[p]
		for i := len(page) - 1; i >= 0; i-- {
			out = append(out, page[i].Renderable())
		}
	}
	return out
}

// View builds the read contract handed to the UI.
func (t *Thread) View() model.ThreadView {
	return model.ThreadView{
		ThreadKey:      t.key,
		Messages:       t.Messages(),
		IsLoadingOlder: t.loadingOlder,
		HasMoreOlder:   t.hasMoreOlder,
		Unread:         t.unread,
	}
}
