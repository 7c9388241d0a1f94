package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashingEngine embeds text in-process by feature hashing: every lower-cased
// token and adjacent token pair is hashed into one of Dimensions signed
// buckets, and the result is L2-normalised. Output depends only on the text
// and the dimension count, so builds are reproducible without a model file.
type HashingEngine struct {
	dims int
}

const bigramWeight = 0.5

// NewHashingEngine returns a HashingEngine producing vectors of length dims.
func NewHashingEngine(dims int) *HashingEngine {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEngine{dims: dims}
}

// ModelName is the model identifier recorded in index builds.
func (e *HashingEngine) ModelName() string {
	return fmt.Sprintf("hashing-%d", e.dims)
}

func (e *HashingEngine) Name() string { return "hashing" }

func (e *HashingEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model != "" && model != e.ModelName() {
		return nil, fmt.Errorf("hashing engine serves %s, not %s", e.ModelName(), model)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashingEngine) vector(text string) []float32 {
	vec := make([]float64, e.dims)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, bigramWeight)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dims)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (e *HashingEngine) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (e *HashingEngine) IsRunning(context.Context) bool { return true }

func (e *HashingEngine) ListModels(context.Context) ([]string, error) {
	return []string{e.ModelName()}, nil
}

func (e *HashingEngine) HasModel(_ context.Context, name string) bool {
	return name == e.ModelName()
}

// PullModel is a no-op; the hashing model has nothing to download.
func (e *HashingEngine) PullModel(context.Context, string, func(PullProgress)) error {
	return nil
}
