package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"user/data:v1", "user_data_v1"},
		{"file<name>", "file_name"},
		{"a//b::c", "a_b_c"},
		{"Saves", "Saves"},
		{"  ", "unnamed"},
		{"..", "unnamed"},
		{"C:", "C"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeKey(tt.in), tt.in)
	}
	assert.Len(t, SanitizeKey(strings.Repeat("x", 500)), MaxNameLength)
}

func TestValidateID(t *testing.T) {
	for _, ok := range []string{"g1", "2f1c-uuid", "Hollow Knight", "general"} {
		assert.NoError(t, ValidateID(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", ".hidden", "a/b", `a\b`, "x:y", strings.Repeat("a", 201)} {
		assert.ErrorIs(t, ValidateID(bad), ErrInvalidName, bad)
	}
}

func TestValidateRelativeName(t *testing.T) {
	for _, ok := range []string{"images/cover.webp", "memories/m1.webp", "saves/s1/0_Saves/slot.sav"} {
		assert.NoError(t, ValidateRelativeName(ok), ok)
	}
	for _, bad := range []string{"", "/etc/passwd", "../x", "images/../../x", "images//x", `images\x`, "images/.git"} {
		assert.ErrorIs(t, ValidateRelativeName(bad), ErrInvalidName, bad)
	}
}
