package vectorstore

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	t.Parallel()

	const eps = 1e-9
	vectors := [][]float32{
		{1, 0, 0},
		{0.3, -2, 7.5},
		{1e-3, 1e-3, 1e-3},
		{-4, 4, -4, 4, 12},
	}
	for _, v := range vectors {
		neg := make([]float32, len(v))
		zero := make([]float32, len(v))
		for i := range v {
			neg[i] = -v[i]
		}
		if got := Cosine(v, v); math.Abs(got-1) > eps {
			t.Errorf("cosine(v, v) = %v for %v", got, v)
		}
		if got := Cosine(v, neg); math.Abs(got+1) > eps {
			t.Errorf("cosine(v, -v) = %v for %v", got, v)
		}
		if got := Cosine(v, zero); got != 0 {
			t.Errorf("cosine(v, 0) = %v for %v", got, v)
		}
	}

	if got := Cosine([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("length mismatch should score 0, got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > eps {
		t.Errorf("orthogonal vectors should score 0, got %v", got)
	}
}

func TestVectorJSON(t *testing.T) {
	t.Parallel()

	s, err := EncodeVector([]float32{0.5, -1, 2})
	if err != nil {
		t.Fatalf("EncodeVector: %v", err)
	}
	if s != "[0.5,-1,2]" {
		t.Errorf("encoded %q", s)
	}
	v, err := DecodeVector(s)
	if err != nil || len(v) != 3 || v[1] != -1 {
		t.Errorf("decoded %v, %v", v, err)
	}
	if _, err := DecodeVector("not json"); err == nil {
		t.Error("want decode error")
	}
}

func TestValidateTable(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"rag_documents":        true,
		"_private":             true,
		"ChatMemory2":          true,
		"":                     false,
		"1table":               false,
		"docs; DROP TABLE x":   false,
		"with-dash":            false,
		"a234567890123456789012345678901234567890123456789012345678901234": false,
	}
	for name, ok := range tests {
		if err := ValidateTable(name); (err == nil) != ok {
			t.Errorf("ValidateTable(%q) = %v, want ok=%v", name, err, ok)
		}
	}
}
