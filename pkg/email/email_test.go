package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"jane.doe@corp.com", "Jane Doe"},
		{"jane.doe+grc@corp.com", "Jane Doe"},
		{"j_r-r.tolkien@corp.com", "J R R Tolkien"},
		{"ops@corp.com", "Ops"},
		{"élodie@corp.com", "Élodie"},
		{"+tag@corp.com", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.address))
		})
	}
}
