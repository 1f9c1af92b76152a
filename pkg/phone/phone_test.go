package phone_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/relay-gateway/pkg/phone"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "valid", input: "9876543210", want: "9876543210"},
		{name: "valid with separators", input: "98765-43210", want: "9876543210"},
		{name: "valid with country prefix stripped chars", input: "(987) 654-3210", want: "9876543210"},
		{name: "leading 6", input: "6000000000", want: "6000000000"},
		{name: "invalid leading digit", input: "1234567890", wantErr: true},
		{name: "too short", input: "987654321", wantErr: true},
		{name: "too long", input: "98765432100", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "letters only", input: "abcdefghij", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := phone.Normalize(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, phone.ErrInvalidNumber)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
