package workcopy

import (
	"errors"
	"testing"
)

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"main", true},
		{"feature/x", true},
		{"release-1.2", true},
		{"origin/main", true},
		{"user@host", true},
		{"", false},
		{"-b", false},
		{"--orphan=pwned", false},
		{"HEAD", false},
		{"@", false},
		{"/lead", false},
		{"trail/", false},
		{"dot.", false},
		{"a//b", false},
		{"a..b", false},
		{"a@{1}", false},
		{"has space", false},
		{"tab\tname", false},
		{"tilde~1", false},
		{"caret^", false},
		{"colon:x", false},
		{"what?", false},
		{"star*", false},
		{"open[", false},
		{`back\slash`, false},
		{".hidden", false},
		{"feature/.x", false},
		{"topic.lock", false},
		{"a.lock/b", false},
	}
	for _, tt := range tests {
		err := ValidateBranchName(tt.name)
		if tt.ok && err != nil {
			t.Errorf("ValidateBranchName(%q) = %v, want nil", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidBranchName) {
			t.Errorf("ValidateBranchName(%q) = %v, want ErrInvalidBranchName", tt.name, err)
		}
	}
}
