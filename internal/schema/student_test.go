package schema

import "testing"

func TestStudent_Normalize(t *testing.T) {
	tests := []struct {
		name   string
		in     Student
		keep   bool
		status string
	}{
		{"complete", Student{ID: "ST-1", Name: "Ada", Status: "Inactive"}, true, "Inactive"},
		{"default status", Student{ID: "ST-2", Name: "Grace"}, true, StatusActive},
		{"missing name", Student{ID: " ST-3 "}, true, StatusActive},
		{"empty id", Student{ID: "  ", Name: "Nobody"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.in
			if got := s.Normalize(); got != tt.keep {
				t.Fatalf("Normalize() = %v, want %v", got, tt.keep)
			}
			if tt.keep && s.Status != tt.status {
				t.Errorf("Status = %q, want %q", s.Status, tt.status)
			}
		})
	}
}

func TestFilterStudents(t *testing.T) {
	students := []*Student{
		{ID: "ST-3", Name: "Zed"},
		{ID: "ST-1", Name: "Ada Lovelace"},
		{ID: "ST-2", Name: "Grace Hopper"},
	}

	all := FilterStudents(students, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 students, got %d", len(all))
	}
	if all[0].Name != "Ada Lovelace" || all[2].Name != "Zed" {
		t.Errorf("not sorted by name: %v, %v, %v", all[0].Name, all[1].Name, all[2].Name)
	}

	byName := FilterStudents(students, "HOPPER")
	if len(byName) != 1 || byName[0].ID != "ST-2" {
		t.Errorf("name search = %v", byName)
	}

	byID := FilterStudents(students, "st-3")
	if len(byID) != 1 || byID[0].Name != "Zed" {
		t.Errorf("id search = %v", byID)
	}
}
