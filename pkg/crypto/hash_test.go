package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestKeyDigest(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string // BLAKE2b-256 in hex
	}{
		{
			name:     "empty input",
			input:    []byte{},
			expected: "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		},
		{
			name:     "simple string",
			input:    []byte("hello world"),
			expected: "256c83b297114d201b30179f3f0ef0cace9783622da5974326b436178aeef610",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeyDigest(tt.input); got != tt.expected {
				t.Errorf("KeyDigest() = %s, want %s", got, tt.expected)
			}
		})
	}

	material := bytes.Repeat([]byte{0xAB}, GroupKeySize)
	key, err := GroupKeyFromData(material)
	if err != nil {
		t.Fatalf("GroupKeyFromData() error = %v", err)
	}
	if key.ID != KeyDigest(material) {
		t.Errorf("group key id = %s, want digest of material", key.ID)
	}
}

func TestKeccak256(t *testing.T) {
	tests := []struct {
		name     string
		input    [][]byte
		expected string
	}{
		{
			name:     "empty input",
			input:    nil,
			expected: "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		},
		{
			name:     "hello",
			input:    [][]byte{[]byte("hello")},
			expected: "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8",
		},
		{
			name:     "split input hashes the concatenation",
			input:    [][]byte{[]byte("he"), []byte("llo")},
			expected: "1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hex.EncodeToString(Keccak256(tt.input...))
			if got != tt.expected {
				t.Errorf("Keccak256() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestRandomBytes(t *testing.T) {
	for _, size := range []int{0, 16, 32} {
		nonce, err := RandomBytes(size)
		if err != nil {
			t.Fatalf("RandomBytes(%d) error = %v", size, err)
		}
		if len(nonce) != size {
			t.Errorf("RandomBytes(%d) length = %d", size, len(nonce))
		}
	}

	a, _ := RandomBytes(16)
	b, _ := RandomBytes(16)
	if bytes.Equal(a, b) {
		t.Error("RandomBytes() produced identical nonces (collision)")
	}
}
