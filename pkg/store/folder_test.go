package store

import "testing"

func TestValidateFolder(t *testing.T) {
	tests := []struct {
		name    string
		folder  string
		wantErr bool
	}{
		{"root", "/", false},
		{"simple", "/work", false},
		{"nested", "/work/project-a", false},
		{"no leading slash", "work", true},
		{"empty", "", true},
		{"trailing slash", "/work/", true},
		{"double slash", "/work//project", true},
		{"trailing double slash", "//", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFolder(tt.folder)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFolder(%q) error = %v, wantErr %v", tt.folder, err, tt.wantErr)
			}
		})
	}
}

func TestValidateImportanceScore(t *testing.T) {
	tests := []struct {
		score   int
		wantErr bool
	}{
		{1, false},
		{5, false},
		{10, false},
		{0, true},
		{11, true},
		{-1, true},
	}
	for _, tt := range tests {
		if err := ValidateImportanceScore(tt.score); (err != nil) != tt.wantErr {
			t.Errorf("ValidateImportanceScore(%d) error = %v, wantErr %v", tt.score, err, tt.wantErr)
		}
	}
}
