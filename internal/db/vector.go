package db

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) (string, error) {
	if len(v) == 0 {
		return "", errors.New("empty vector")
	}
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return "", errors.New("vector contains non-finite value")
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}
