// Package classifier talks to external language models that label inbound
// candidate replies with an intent from the closed taxonomy.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/recrutai/engage-server-go/internal/model"
)

// ErrUnavailable is returned when no external classifier is configured.
var ErrUnavailable = errors.New("external classifier unavailable")

type Result struct {
	Intent     model.Intent `json:"intent"`
	Confidence float64      `json:"confidence"`
}

// Classifier labels a single message.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string) (*Result, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// New builds the configured provider wrapped in a circuit breaker. It
// returns nil when Provider is empty or "none".
func New(cfg Config) (Classifier, error) {
	var c Classifier
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "anthropic":
		c = NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "openai":
		c = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
	return WithBreaker(c, cfg.Timeout), nil
}

// SystemPrompt instructs the model to answer with a single JSON object.
func SystemPrompt() string {
	labels := make([]string, len(model.Intents))
	for i, intent := range model.Intents {
		labels[i] = string(intent)
	}

	var b strings.Builder
	b.WriteString("Você classifica mensagens de candidatos enviadas para uma equipe de recrutamento.\n")
	b.WriteString("Escolha exatamente uma intenção entre: ")
	b.WriteString(strings.Join(labels, ", "))
	b.WriteString(".\n")
	b.WriteString("Use \"other\" quando nenhuma se aplicar.\n")
	b.WriteString("Responda apenas com JSON no formato {\"intent\": \"<intenção>\", \"confidence\": <número entre 0 e 1>}.")
	return b.String()
}

// ParseResponse extracts the JSON object from a model reply. Confidence is
// clamped to [0, 1] and labels outside the taxonomy become other.
func ParseResponse(raw string) (*Result, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in classifier reply")
	}

	var reply struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("decode classifier reply: %w", err)
	}

	intent := model.Intent(strings.ToLower(strings.TrimSpace(reply.Intent)))
	if !intent.Valid() {
		intent = model.IntentOther
	}
	return &Result{Intent: intent, Confidence: clamp(reply.Confidence)}, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
