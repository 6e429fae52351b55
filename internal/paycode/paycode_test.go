package paycode

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Shape(t *testing.T) {
	g := NewGenerator()

	for i := 0; i < 200; i++ {
		code, err := g.Generate("S001:120:1700000000000")
		require.NoError(t, err)
		require.Len(t, code, Length)

		for _, c := range code[:CoreLength] {
			assert.True(t, strings.ContainsRune(Alphabet, c), "core symbol %q outside alphabet", c)
		}
		assert.True(t, WellFormed(code))
		assert.True(t, Verify(code, "S001:120:1700000000000"))
	}
}

func TestGenerate_DeterministicWithFixedSource(t *testing.T) {
	// bytes 0..5 map onto the first six alphabet symbols
	g := NewGeneratorWithSource(bytes.NewReader([]byte{0, 1, 2, 3, 4, 5}))

	code, err := g.Generate("S001:120:1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFHQ", code)
}

func TestGenerate_ReadError(t *testing.T) {
	g := NewGeneratorWithSource(errReader{})

	_, err := g.Generate("seed")
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		seed string
		core string
		want string
	}{
		{name: "seeded core", seed: "S001:120:1700000000000", core: "ABCDEF", want: "HQ"},
		{name: "empty seed", seed: "", core: "XYZ234", want: "A9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.seed, tt.core))
			assert.Equal(t, Checksum(tt.seed, tt.core), Checksum(tt.seed, tt.core))
		})
	}
}

func TestVerify(t *testing.T) {
	assert.True(t, Verify("ABCDEFHQ", "S001:120:1700000000000"))
	assert.True(t, Verify("  abcdefhq ", "S001:120:1700000000000"))
	assert.False(t, Verify("ABCDEGHQ", "S001:120:1700000000000"), "tampered core")
	assert.False(t, Verify("ABCDEFHQ", "S002:120:1700000000000"), "different seed")
	assert.False(t, Verify("ABCDEF", "S001:120:1700000000000"), "truncated")
}

func TestWellFormed(t *testing.T) {
	assert.True(t, WellFormed("ABC234XY"))
	assert.True(t, WellFormed("ABC23401"), "checksum may use any base-36 digit")
	assert.False(t, WellFormed("ABC1230X"), "1 is not in the core alphabet")
	assert.False(t, WellFormed("OBC234XY"), "O is not in the core alphabet")
	assert.False(t, WellFormed("ABC234X"))
	assert.False(t, WellFormed("ABC234X-"))
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }
