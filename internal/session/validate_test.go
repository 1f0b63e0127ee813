package session

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"work-2", false},
		{"phone_b", false},
		{"a", false},
		{strings.Repeat("x", 64), false},
		{strings.Repeat("x", 65), true},
		{"", true},
		{"Work", true},
		{"two words", true},
		{"../escape", true},
		{"a/b", true},
		{"dot.name", true},
		{"-flag", true},
		{"_hidden", true},
		{"9lives", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) does not wrap ErrInvalidName", tt.input)
		}
	}
	if err := ValidateName("-x"); err == nil || !strings.Contains(err.Error(), "start with") {
		t.Errorf("leading dash error = %v", err)
	}
}
