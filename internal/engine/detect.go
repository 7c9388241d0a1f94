package engine

import "fmt"

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string // "hashing" or "ollama"
	Dimensions    int
	OllamaBaseURL string
	OllamaModel   string
}

// Detect returns the configured backend together with the model name that
// index builds and query embeddings must share.
func Detect(cfg DetectConfig) (Engine, string, error) {
	switch cfg.Backend {
	case "", "hashing":
		e := NewHashingEngine(cfg.Dimensions)
		return e, e.ModelName(), nil
	case "ollama":
		if cfg.OllamaModel == "" {
			return nil, "", fmt.Errorf("ollama backend requires an embedding model")
		}
		return NewOllamaEngine(cfg.OllamaBaseURL), cfg.OllamaModel, nil
	default:
		return nil, "", fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}
