package section

import "github.com/matheus3301/threadline/internal/entity"

// InsertUnreadDivider puts the divider right after the row addressed by
// after, replacing any previous divider. Nothing is inserted when the anchor
// is unknown or has no rows after it.
func (ix *Index) InsertUnreadDivider(after entity.Ref, unread int) bool {
	ix.RemoveUnreadDivider()
	anchor, ok := ix.Lookup(after)
	if !ok || anchor == ix.Last() {
		return false
	}
	ix.divider = &entity.Message{
		UniqueToken:    DividerToken,
		ConversationID: ix.conversationID,
		Body:           entity.Divider{Unread: unread},
	}
	ix.dividerAnchor = anchor.Ref()
	ix.byToken[DividerToken] = ix.divider
	ix.placeDivider()
	return true
}

// RemoveUnreadDivider drops the divider. It reports whether one existed.
func (ix *Index) RemoveUnreadDivider() bool {
	if ix.divider == nil {
		return false
	}
	ix.detach(ix.divider)
	delete(ix.byToken, DividerToken)
	ix.divider = nil
	ix.dividerAnchor = entity.Ref{}
	return true
}

// Divider returns the divider position and its anchor.
func (ix *Index) Divider() (Path, entity.Ref, bool) {
	if ix.divider == nil {
		return Path{}, entity.Ref{}, false
	}
	p, ok := ix.pathOf(ix.divider)
	return p, ix.dividerAnchor, ok
}

// placeDivider moves the divider right after its anchor.
func (ix *Index) placeDivider() {
	anchor, ok := ix.Lookup(ix.dividerAnchor)
	if !ok {
		ix.RemoveUnreadDivider()
		return
	}
	ix.dividerAnchor = anchor.Ref()
	ix.detach(ix.divider)
	ix.divider.Time = anchor.Time
	ix.divider.Seq = anchor.Seq

	p, ok := ix.pathOf(anchor)
	if !ok {
		return
	}
	s := ix.sections[p.Section]
	pos := p.Row + 1
	s.Rows = append(s.Rows, nil)
	copy(s.Rows[pos+1:], s.Rows[pos:])
	s.Rows[pos] = ix.divider
}
