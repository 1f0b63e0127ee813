package thread

import (
	"github.com/matheus3301/threadline/internal/entity"
	"github.com/matheus3301/threadline/internal/reconcile"
	"github.com/matheus3301/threadline/internal/rowcalc"
	"github.com/matheus3301/threadline/internal/section"
)

// Delta describes one published change. Removed paths refer to the previous
// layout; inserted and updated paths to the new one. Rows inside inserted or
// removed sections are not listed individually. Resync means earlier deltas
// were dropped and the consumer should reload from Snapshot.
type Delta struct {
	Epoch            uint64           `json:"epoch"`
	InsertedSections []int            `json:"inserted_sections,omitempty"`
	RemovedSections  []int            `json:"removed_sections,omitempty"`
	Inserted         []section.Path   `json:"inserted,omitempty"`
	Updated          []section.Path   `json:"updated,omitempty"`
	Removed          []section.Path   `json:"removed,omitempty"`
	Highlight        *section.Path    `json:"highlight,omitempty"`
	State            reconcile.State  `json:"state"`
	Search           bool             `json:"search,omitempty"`
	SearchResults    []entity.Message `json:"-"`
	Resync           bool             `json:"resync,omitempty"`
}

// Row is a message together with its presentation model, if computed.
type Row struct {
	Message entity.Message
	Model   *rowcalc.Model
}

// SectionView is one day of rows.
type SectionView struct {
	Day  section.DayKey
	Rows []Row
}

// Snapshot is an immutable copy of the thread.
type Snapshot struct {
	Epoch         uint64
	Sections      []SectionView
	State         reconcile.State
	SearchResults []entity.Message
}

// Len returns the number of rows.
func (s *Snapshot) Len() int {
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Rows)
	}
	return n
}

// At returns the row at p.
func (s *Snapshot) At(p section.Path) (Row, bool) {
	if p.Section < 0 || p.Section >= len(s.Sections) {
		return Row{}, false
	}
	rows := s.Sections[p.Section].Rows
	if p.Row < 0 || p.Row >= len(rows) {
		return Row{}, false
	}
	return rows[p.Row], true
}

// Find returns the position of the row addressed by ref.
func (s *Snapshot) Find(ref entity.Ref) (section.Path, bool) {
	for si, sec := range s.Sections {
		for ri, r := range sec.Rows {
			if r.Message.Matches(ref) {
				return section.Path{Section: si, Row: ri}, true
			}
		}
	}
	return section.Path{}, false
}

func (vm *ViewModel) buildSnapshot() *Snapshot {
	snap := &Snapshot{
		Epoch:         vm.epoch,
		State:         vm.rec.State(),
		SearchResults: append([]entity.Message(nil), vm.search...),
	}
	for _, s := range vm.index.Sections() {
		view := SectionView{Day: s.Day, Rows: make([]Row, len(s.Rows))}
		for i, m := range s.Rows {
			view.Rows[i] = Row{Message: *m}
			if rs, ok := vm.rows[m.UniqueToken]; ok {
				view.Rows[i].Model = rs.model
			}
		}
		snap.Sections = append(snap.Sections, view)
	}
	return snap
}
