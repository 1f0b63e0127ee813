// Package section keeps a conversation as day-bucketed, time-ordered rows.
package section

import (
	"sort"
	"time"

	"github.com/matheus3301/threadline/internal/entity"
)

// DividerToken is the unique token of the unread divider row.
const DividerToken = "unread-divider"

// DayKey identifies a UTC calendar day as yyyymmdd.
type DayKey int32

// DayOf returns the UTC day of a unix millisecond timestamp.
func DayOf(ms int64) DayKey {
	t := time.UnixMilli(ms).UTC()
	return DayKey(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// Time returns midnight UTC of the day.
func (d DayKey) Time() time.Time {
	y, m, day := int(d)/10000, time.Month(int(d)/100%100), int(d)%100
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func (d DayKey) String() string { return d.Time().Format("2006-01-02") }

// Section is one day of rows.
type Section struct {
	Day  DayKey
	Rows []*entity.Message
}

// Path locates a row.
type Path struct {
	Section int
	Row     int
}

// Outcome reports what InsertOrUpdate did.
type Outcome int

const (
	Ignored Outcome = iota
	Unchanged
	Inserted
	Updated
	Moved
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Moved:
		return "moved"
	default:
		return "ignored"
	}
}

// Index holds the rows of one conversation. It is not safe for concurrent
// use; the owner serializes access.
type Index struct {
	conversationID string
	sections       []*Section
	byToken        map[string]*entity.Message
	byID           map[int64]*entity.Message
	nextSeq        uint64

	divider       *entity.Message
	dividerAnchor entity.Ref
}

// New returns an empty index for a conversation.
func New(conversationID string) *Index {
	return &Index{
		conversationID: conversationID,
		byToken:        make(map[string]*entity.Message),
		byID:           make(map[int64]*entity.Message),
	}
}

// ConversationID returns the conversation the index belongs to.
func (ix *Index) ConversationID() string { return ix.conversationID }

// Sections returns the sections in day order. Callers must not modify them.
func (ix *Index) Sections() []*Section { return ix.sections }

// Len returns the number of rows including the divider.
func (ix *Index) Len() int {
	n := 0
	for _, s := range ix.sections {
		n += len(s.Rows)
	}
	return n
}

// MessageCount returns the number of message rows.
func (ix *Index) MessageCount() int {
	if ix.divider != nil {
		return ix.Len() - 1
	}
	return ix.Len()
}

// Reset drops every row.
func (ix *Index) Reset() {
	ix.sections = nil
	ix.byToken = make(map[string]*entity.Message)
	ix.byID = make(map[int64]*entity.Message)
	ix.divider = nil
	ix.dividerAnchor = entity.Ref{}
}

// Lookup finds a message by token, then by server id.
func (ix *Index) Lookup(ref entity.Ref) (*entity.Message, bool) {
	if ref.Token != "" {
		if m, ok := ix.byToken[ref.Token]; ok {
			return m, true
		}
	}
	if ref.ServerID != 0 {
		if m, ok := ix.byID[ref.ServerID]; ok {
			return m, true
		}
	}
	return nil, false
}

// IndicesFor returns the position of the row addressed by ref.
func (ix *Index) IndicesFor(ref entity.Ref) (Path, bool) {
	m, ok := ix.Lookup(ref)
	if !ok {
		return Path{}, false
	}
	return ix.pathOf(m)
}

func (ix *Index) pathOf(m *entity.Message) (Path, bool) {
	si, ok := ix.findSection(DayOf(m.Time))
	if ok {
		for ri, r := range ix.sections[si].Rows {
			if r == m {
				return Path{Section: si, Row: ri}, true
			}
		}
	}
	// The row is out of place until the next SortAll.
	for si, s := range ix.sections {
		for ri, r := range s.Rows {
			if r == m {
				return Path{Section: si, Row: ri}, true
			}
		}
	}
	return Path{}, false
}

// At returns the row at p.
func (ix *Index) At(p Path) (*entity.Message, bool) {
	if p.Section < 0 || p.Section >= len(ix.sections) {
		return nil, false
	}
	rows := ix.sections[p.Section].Rows
	if p.Row < 0 || p.Row >= len(rows) {
		return nil, false
	}
	return rows[p.Row], true
}

// InsertOrUpdate merges m into the index. The index keeps its own copy;
// the caller's value is not retained.
func (ix *Index) InsertOrUpdate(m *entity.Message) Outcome {
	if m == nil || m.ConversationID != ix.conversationID || m.Kind() == entity.KindDivider {
		return Ignored
	}
	if m.UniqueToken == DividerToken || (m.UniqueToken == "" && m.ServerID == 0) {
		return Ignored
	}

	existing, ok := ix.Lookup(m.Ref())
	if !ok {
		ix.insert(m.Clone())
		return Inserted
	}

	// The token matched one row while the server id belongs to another: the
	// other row is a duplicate of the same message, unless the matched row
	// already carries a different server id and the two are distinct.
	if m.ServerID != 0 && (existing.ServerID == 0 || existing.ServerID == m.ServerID) {
		if dup, ok := ix.byID[m.ServerID]; ok && dup != existing {
			ix.remove(dup)
		}
	}

	oldID := existing.ServerID
	changed, reordered := existing.MergeFrom(m)
	if !changed {
		return Unchanged
	}
	if existing.ServerID != oldID {
		if oldID != 0 {
			delete(ix.byID, oldID)
		}
		ix.byID[existing.ServerID] = existing
	}
	if !reordered {
		return Updated
	}
	ix.reposition(existing)
	return Moved
}

// Update applies fn to the addressed row and keeps the index consistent
// with whatever fn changed. fn reports whether it changed anything.
func (ix *Index) Update(ref entity.Ref, fn func(m *entity.Message) bool) Outcome {
	m, ok := ix.Lookup(ref)
	if !ok || m == ix.divider {
		return Ignored
	}
	oldID, oldTime := m.ServerID, m.Time
	if !fn(m) {
		return Unchanged
	}
	m.Version++
	if m.ServerID != oldID {
		if oldID != 0 {
			delete(ix.byID, oldID)
		}
		if m.ServerID != 0 {
			if dup, ok := ix.byID[m.ServerID]; ok && dup != m {
				ix.remove(dup)
			}
			ix.byID[m.ServerID] = m
		}
	}
	if m.Time == oldTime {
		return Updated
	}
	ix.reposition(m)
	return Moved
}

func (ix *Index) insert(m *entity.Message) {
	ix.nextSeq++
	m.Seq = ix.nextSeq
	ix.place(m)
	ix.byToken[m.UniqueToken] = m
	if m.ServerID != 0 {
		ix.byID[m.ServerID] = m
	}
}

// place puts m after every row not later than it.
func (ix *Index) place(m *entity.Message) {
	day := DayOf(m.Time)
	si, ok := ix.findSection(day)
	if !ok {
		ix.sections = append(ix.sections, nil)
		copy(ix.sections[si+1:], ix.sections[si:])
		ix.sections[si] = &Section{Day: day}
	}
	s := ix.sections[si]
	pos := sort.Search(len(s.Rows), func(i int) bool { return less(m, s.Rows[i]) })
	s.Rows = append(s.Rows, nil)
	copy(s.Rows[pos+1:], s.Rows[pos:])
	s.Rows[pos] = m
}

func (ix *Index) reposition(m *entity.Message) {
	ix.detach(m)
	ix.place(m)
	if ix.divider != nil && m.Matches(ix.dividerAnchor) {
		ix.placeDivider()
	}
}

// detach removes m from its section without touching the lookup maps.
func (ix *Index) detach(m *entity.Message) bool {
	p, ok := ix.pathOf(m)
	if !ok {
		return false
	}
	s := ix.sections[p.Section]
	s.Rows = append(s.Rows[:p.Row], s.Rows[p.Row+1:]...)
	if len(s.Rows) == 0 {
		ix.sections = append(ix.sections[:p.Section], ix.sections[p.Section+1:]...)
	}
	return true
}

func (ix *Index) remove(m *entity.Message) {
	ix.detach(m)
	delete(ix.byToken, m.UniqueToken)
	if m.ServerID != 0 && ix.byID[m.ServerID] == m {
		delete(ix.byID, m.ServerID)
	}
	if ix.divider != nil && m != ix.divider && m.Matches(ix.dividerAnchor) {
		ix.RemoveUnreadDivider()
	}
}

// RemoveByID removes the row with the given server id.
func (ix *Index) RemoveByID(id int64) (*entity.Message, bool) {
	m, ok := ix.byID[id]
	if !ok {
		return nil, false
	}
	ix.remove(m)
	return m, true
}

// RemoveByToken removes the row with the given unique token.
func (ix *Index) RemoveByToken(token string) (*entity.Message, bool) {
	if token == DividerToken {
		return nil, false
	}
	m, ok := ix.byToken[token]
	if !ok {
		return nil, false
	}
	ix.remove(m)
	return m, true
}

// Remove removes the row addressed by ref.
func (ix *Index) Remove(ref entity.Ref) (*entity.Message, bool) {
	m, ok := ix.Lookup(ref)
	if !ok || m == ix.divider {
		return nil, false
	}
	ix.remove(m)
	return m, true
}

// SortAll rebuilds the sections from scratch: rows regrouped by day, ordered
// by time then insertion sequence, and the divider re-placed.
func (ix *Index) SortAll() {
	rows := make([]*entity.Message, 0, ix.Len())
	for _, s := range ix.sections {
		for _, r := range s.Rows {
			if r != ix.divider {
				rows = append(rows, r)
			}
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })

	ix.sections = ix.sections[:0]
	for _, r := range rows {
		day := DayOf(r.Time)
		if n := len(ix.sections); n == 0 || ix.sections[n-1].Day != day {
			ix.sections = append(ix.sections, &Section{Day: day})
		}
		last := ix.sections[len(ix.sections)-1]
		last.Rows = append(last.Rows, r)
	}
	if ix.divider != nil {
		ix.placeDivider()
	}
}

// Walk visits rows in order until fn returns false.
func (ix *Index) Walk(fn func(p Path, m *entity.Message) bool) {
	for si, s := range ix.sections {
		for ri, r := range s.Rows {
			if !fn(Path{Section: si, Row: ri}, r) {
				return
			}
		}
	}
}

// First returns the oldest message row.
func (ix *Index) First() *entity.Message {
	for _, s := range ix.sections {
		for _, r := range s.Rows {
			if r != ix.divider {
				return r
			}
		}
	}
	return nil
}

// Cursor is a keyset position: a timestamp and the server id that orders
// rows within it. A zero ID covers the whole millisecond.
type Cursor struct {
	Time int64
	ID   int64
}

// TopCursor returns the position of the oldest loaded rows: their
// timestamp and the smallest server id among the rows sharing it.
func (ix *Index) TopCursor() (Cursor, bool) {
	return ix.edge(ix.First(), func(a, b int64) bool { return a < b })
}

// BottomCursor is TopCursor for the newest rows, with the largest id.
func (ix *Index) BottomCursor() (Cursor, bool) {
	return ix.edge(ix.Last(), func(a, b int64) bool { return a > b })
}

func (ix *Index) edge(m *entity.Message, better func(a, b int64) bool) (Cursor, bool) {
	if m == nil {
		return Cursor{}, false
	}
	c := Cursor{Time: m.Time}
	for id, r := range ix.byID {
		if r.Time == m.Time && (c.ID == 0 || better(id, c.ID)) {
			c.ID = id
		}
	}
	return c, true
}

// Last returns the newest message row.
func (ix *Index) Last() *entity.Message {
	for si := len(ix.sections) - 1; si >= 0; si-- {
		rows := ix.sections[si].Rows
		for ri := len(rows) - 1; ri >= 0; ri-- {
			if rows[ri] != ix.divider {
				return rows[ri]
			}
		}
	}
	return nil
}

// Neighbors returns the rows around p within its section. Day boundaries
// break runs, so rows of other sections are never neighbors.
func (ix *Index) Neighbors(p Path) (prev, next *entity.Message) {
	if p.Section < 0 || p.Section >= len(ix.sections) {
		return nil, nil
	}
	rows := ix.sections[p.Section].Rows
	if p.Row > 0 && p.Row <= len(rows) {
		prev = rows[p.Row-1]
	}
	if p.Row+1 < len(rows) {
		next = rows[p.Row+1]
	}
	return prev, next
}

func (ix *Index) findSection(day DayKey) (int, bool) {
	i := sort.Search(len(ix.sections), func(i int) bool { return ix.sections[i].Day >= day })
	return i, i < len(ix.sections) && ix.sections[i].Day == day
}

func less(a, b *entity.Message) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.Seq < b.Seq
}
