package util

import (
	"testing"
)

func TestContentHash(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"simple", "hello world"},
		{"unicode", "résumé ✓"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h1 := ContentHash(tt.data)
			h2 := ContentHash(tt.data)

			if h1 != h2 {
				t.Errorf("Hashes should be deterministic: %s != %s", h1, h2)
			}
			if len(h1) != 64 {
				t.Errorf("Expected 64 hex characters, got %d", len(h1))
			}
		})
	}
}

func TestValidateContentHash(t *testing.T) {
	content := "You are a helpful summarizer."
	hash := ContentHash(content)

	if !ValidateContentHash(content, hash) {
		t.Error("Matching content should pass validation")
	}
	if ValidateContentHash(content+" ", hash) {
		t.Error("Changed content should fail validation")
	}
}

func TestShortHash(t *testing.T) {
	if got := len(ShortHash("abc", 16)); got != 16 {
		t.Errorf("Expected 16 characters, got %d", got)
	}
	if got := len(ShortHash("abc", 0)); got != 64 {
		t.Errorf("Expected full hash, got %d characters", got)
	}
}

func BenchmarkContentHash(b *testing.B) {
	data := string(make([]byte, 50*1024))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ContentHash(data)
	}
}
