package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalProvider is a deterministic bag-of-words hashing embedder. It needs
// no external service, so the knowledge store keeps working when no
// embeddings API is configured. Vectors are L2-normalized.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a LocalProvider with the configured dimension.
func NewLocalProvider(cfg Config) *LocalProvider {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 256
	}
	return &LocalProvider{dimension: dim}
}

// Embed hashes each token of each text into a fixed-size vector.
func (p *LocalProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, p.dimension)
		for _, tok := range tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			sum := h.Sum32()
			idx := int(sum % uint32(p.dimension))
			// Sign bit from the hash spreads tokens over both directions.
			if sum&0x80000000 != 0 {
				vec[idx] -= 1
			} else {
				vec[idx] += 1
			}
		}
		normalize(vec)
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the configured vector dimension.
func (p *LocalProvider) Dimension() int { return p.dimension }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r > 127)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
