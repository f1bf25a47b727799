package limits

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateChannels covers the accepted and rejected channel layouts.
func TestValidateChannels(t *testing.T) {
	tests := []struct {
		name    string
		in, out int
		wantErr bool
	}{
		{"source", 0, 2, false},
		{"sink", 2, 0, false},
		{"effect", 1, 1, false},
		{"no channels", 0, 0, true},
		{"negative input", -1, 2, true},
		{"negative output", 2, -1, true},
		{"too wide", MaxChannels + 1, 1, true},
		{"widest", MaxChannels, MaxChannels, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannels(tt.in, tt.out)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidChannels))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestValidateMessage verifies empty and oversized payloads are rejected.
func TestValidateMessage(t *testing.T) {
	assert.ErrorIs(t, ValidateMessage(nil), ErrMessageEmpty)
	assert.ErrorIs(t, ValidateMessage([]byte{}), ErrMessageEmpty)
	assert.ErrorIs(t, ValidateMessage(make([]byte, MaxMessageLength+1)), ErrMessageTooLong)
	assert.NoError(t, ValidateMessage(make([]byte, MaxMessageLength)))
	assert.NoError(t, ValidateMessage([]byte("x")))
}

// TestPaddedMessageSize verifies payloads are rounded to 4 bytes plus the length prefix.
func TestPaddedMessageSize(t *testing.T) {
	assert.Equal(t, 4, PaddedMessageSize(0))
	assert.Equal(t, 8, PaddedMessageSize(1))
	assert.Equal(t, 8, PaddedMessageSize(4))
	assert.Equal(t, 12, PaddedMessageSize(5))
}

// TestCapacityRelations guards the relations other packages rely on.
func TestCapacityRelations(t *testing.T) {
	assert.Greater(t, MaxModules, SystemModules)
	assert.Less(t, PaddedMessageSize(MaxMessageLength), MessageRegionSize)
	assert.Less(t, MessageRegionSize, SegmentSize)
}
