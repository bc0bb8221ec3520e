package ch4nn337

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUint128(t *testing.T) {
	tests := []struct {
		name    string
		input   *big.Int
		wantErr bool
	}{
		{"nil", nil, true},
		{"negative", big.NewInt(-1), true},
		{"zero", big.NewInt(0), false},
		{"max", new(big.Int).Set(maxUint128), false},
		{"overflow", new(big.Int).Add(maxUint128, big.NewInt(1)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToUint128(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, got.Cmp(tt.input))
		})
	}
}

func TestToInt128(t *testing.T) {
	tests := []struct {
		name    string
		input   *big.Int
		wantErr bool
	}{
		{"nil", nil, true},
		{"negative", big.NewInt(-1), false},
		{"min", new(big.Int).Set(minInt128), false},
		{"max", new(big.Int).Set(maxInt128), false},
		{"overflow", new(big.Int).Add(maxInt128, big.NewInt(1)), true},
		{"underflow", new(big.Int).Sub(minInt128, big.NewInt(1)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToInt128(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, got.Cmp(tt.input))
		})
	}
}

func TestValidAmount(t *testing.T) {
	assert.False(t, validAmount(nil))
	assert.False(t, validAmount(big.NewInt(0)))
	assert.False(t, validAmount(big.NewInt(-5)))
	assert.True(t, validAmount(big.NewInt(1)))
	assert.True(t, validAmount(maxInt128))
	assert.False(t, validAmount(new(big.Int).Add(maxInt128, big.NewInt(1))))
}
