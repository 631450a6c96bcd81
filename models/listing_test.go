package models

import "testing"

func TestSourceValid(t *testing.T) {
	tests := []struct {
		src  Source
		want bool
	}{
		{SourceBazos, true},
		{SourceSauto, true},
		{"", false},
		{"BAZOS", false},
	}

	for _, tt := range tests {
		if got := tt.src.Valid(); got != tt.want {
			t.Errorf("Source(%q).Valid() = %v; want %v", tt.src, got, tt.want)
		}
	}
}

func TestSourceDisplayName(t *testing.T) {
	if got := SourceBazos.DisplayName(); got != "Bazos.cz" {
		t.Errorf("DisplayName() = %q; want Bazos.cz", got)
	}
	if got := SourceSauto.DisplayName(); got != "Sauto.cz" {
		t.Errorf("DisplayName() = %q; want Sauto.cz", got)
	}
}
