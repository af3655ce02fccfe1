package vectorstore

import (
	"encoding/json"
	"fmt"
	"math"
)

// Cosine returns dot(a,b) / (|a|*|b|), or 0 when either magnitude is zero or
// the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EncodeVector renders v as a JSON array, the portable form every backend
// stores.
func EncodeVector(v []float32) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("vectorstore: encode vector: %w", err)
	}
	return string(b), nil
}

// DecodeVector parses a JSON array written by EncodeVector.
func DecodeVector(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("vectorstore: decode vector: %w", err)
	}
	return v, nil
}

// encodeAttributes renders attrs as a JSON object; nil maps become "{}".
func encodeAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "{}"
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// decodeAttributes parses a JSON object, returning nil for empty or invalid input.
func decodeAttributes(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
