package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupe(t *testing.T) {
	tests := []struct {
		name string
		fn   func([]string) []string
		in   []string
		want []string
	}{
		{"nil stays nil", DedupeAndTrim, nil, nil},
		{"empty stays empty", DedupeAndTrim, []string{}, []string{}},
		{"event ids keep first position", DedupeAndTrim, []string{"17", " 4 ", "17", "9", "4"}, []string{"17", "4", "9"}},
		{"blank tokens dropped", DedupeAndTrim, []string{"https://a.example/x", "", "   ", "file_operation:3"}, []string{"https://a.example/x", "file_operation:3"}},
		{"case is significant", DedupeAndTrim, []string{"Report.pdf", "report.pdf"}, []string{"Report.pdf", "report.pdf"}},
		{"roles fold case", DedupeAndTrimLower, []string{" TPRM_Admin", "tprm_admin ", "Reviewer", "admin"}, []string{"tprm_admin", "reviewer", "admin"}},
		{"lower on nil", DedupeAndTrimLower, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.in))
		})
	}
}
