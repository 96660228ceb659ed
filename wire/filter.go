package wire

// FilterScope selects which CAN-ID width a mask filter applies to.
type FilterScope uint8

// Filter scopes (spec §3).
const (
	FilterScope11Bit FilterScope = iota
	FilterScope29Bit
)

// MaxFilters is the maximum number of simultaneously active mask
// filters (spec §3: "Up to 8 may be active").
const MaxFilters = 8

// MaskFilter is a single accept/mask pair scoped to one ID width.
type MaskFilter struct {
	Scope  FilterScope
	Accept uint32
	Mask   uint32
}

// Match reports whether id (already scope-resolved, no tag bits)
// passes this filter: (id & mask) == (accept & mask).
func (f MaskFilter) Match(id uint32) bool {
	return id&f.Mask == f.Accept&f.Mask
}

// FilterSet holds up to MaxFilters filters per scope and implements the
// pass/reject rule from spec §3: with none installed for a scope, all
// IDs of that scope pass; once any filter exists for a scope, an ID
// passes only if it matches at least one filter in that scope. The two
// scopes are evaluated independently.
type FilterSet struct {
	standard []MaskFilter
	extended []MaskFilter
}

// Add installs a filter, returning false if the relevant scope is full.
func (s *FilterSet) Add(f MaskFilter) bool {
	switch f.Scope {
	case FilterScope11Bit:
		if len(s.standard) >= MaxFilters {
			return false
		}
		s.standard = append(s.standard, f)
	case FilterScope29Bit:
		if len(s.extended) >= MaxFilters {
			return false
		}
		s.extended = append(s.extended, f)
	}
	return true
}

// Clear removes every installed filter in both scopes.
func (s *FilterSet) Clear() {
	s.standard = nil
	s.extended = nil
}

// Accepts reports whether id passes the filter set for the given
// extended/standard scope.
func (s *FilterSet) Accepts(extended bool, id uint32) bool {
	list := s.standard
	if extended {
		list = s.extended
	}
	if len(list) == 0 {
		return true
	}
	for _, f := range list {
		if f.Match(id) {
			return true
		}
	}
	return false
}
