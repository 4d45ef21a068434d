package schema

import (
	"sort"
	"strings"
)

// StatusActive is the default student status when the remote omits it.
const StatusActive = "Active"

// StatusInactive marks a student that should not receive new issues.
const StatusInactive = "Inactive"

// Student is a reference entity downloaded from the remote.
// The local copy is read-only and replaced wholesale on refresh.
type Student struct {
	ID     string `json:"student_id"`
	Name   string `json:"full_name"`
	Status string `json:"status"`
}

// Normalize trims the record and applies defaults for missing optional fields.
// It returns false when the record has no identifier and must be skipped.
func (s *Student) Normalize() bool {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return false
	}
	s.Name = strings.TrimSpace(s.Name)
	s.Status = strings.TrimSpace(s.Status)
	if s.Status == "" {
		s.Status = StatusActive
	}
	return true
}

// Matches reports whether the search text appears in the id or the name.
// An empty search matches everything.
func (s *Student) Matches(search string) bool {
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s.ID), q) ||
		strings.Contains(strings.ToLower(s.Name), q)
}

// FilterStudents returns the students matching search, sorted by name.
func FilterStudents(students []*Student, search string) []*Student {
	out := make([]*Student, 0, len(students))
	for _, s := range students {
		if s.Matches(search) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
