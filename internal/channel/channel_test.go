package channel

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		a, b string
		want Key
	}{
		{"alice", "bob", "bob_alice"},
		{"bob", "alice", "bob_alice"},
		{"carol", "dave", "dave_carol"},
		{"1", "2", "2_1"},
		{"10", "9", "9_10"},
		{"same", "same", "same_same"},
		{"", "x", "x_"},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.a, tt.b))
		})
	}
}

func TestCanonicalizeSymmetric(t *testing.T) {
	symmetric := func(a, b string) bool {
		return Canonicalize(a, b) == Canonicalize(b, a)
	}
	if err := quick.Check(symmetric, nil); err != nil {
		t.Error(err)
	}
}

func TestPair(t *testing.T) {
	p := Pair{A: "alice", B: "bob"}
	assert.True(t, p.Valid())
	assert.Equal(t, Canonicalize("bob", "alice"), p.Key())
	assert.False(t, Pair{A: "alice"}.Valid())
}
