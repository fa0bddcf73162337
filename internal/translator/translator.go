// Package translator translates bubble text through an OpenAI-compatible
// chat model, batching a page's bubbles into one context-preserving prompt.
package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/text/unicode/norm"

	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

// BatchSeparator is the delimiter used to separate bubbles in a batch.
const BatchSeparator = "\n---BUBBLE_SEPARATOR---\n"

// DefaultContextWindow is the default batch size in characters.
const DefaultContextWindow = 4000

// DefaultMaxRetries is the default number of retries per batch.
const DefaultMaxRetries = 3

// BaseRetryDelay is the initial delay of the exponential backoff.
const BaseRetryDelay = 2 * time.Second

// Provider tags recorded on each translation.
const (
	ProviderCache = "cache"
	ProviderEmpty = "empty"
)

// Translation is the result for one input text.
type Translation struct {
	TranslatedText string `json:"translated_text"`
	ProviderTag    string `json:"provider_tag"`
}

// Generator is the part of an eino chat model the translator needs.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Config holds options for creating a Translator.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	TargetLang    string
	ContextWindow int
	MaxRetries    int
	CachePath     string
}

// Translator 负责批量翻译气泡文本
type Translator struct {
	gen           Generator
	model         string
	targetLang    string
	contextWindow int
	maxRetries    int
	baseDelay     time.Duration
	cache         *Cache
}

// NewTranslator creates a translator backed by the eino OpenAI chat model.
func NewTranslator(ctx context.Context, cfg Config) (*Translator, error) {
	if cfg.APIKey == "" {
		return nil, types.NewAppError(types.ErrConfig, "API key is not configured", nil)
	}

	temperature := float32(0.3)
	chatModelConfig := &openai.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: &temperature,
	}
	if cfg.BaseURL != "" {
		chatModelConfig.BaseURL = cfg.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, chatModelConfig)
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create chat model", err)
	}
	return NewTranslatorWithGenerator(chatModel, cfg), nil
}

// NewTranslatorWithGenerator creates a translator around any Generator.
func NewTranslatorWithGenerator(gen Generator, cfg Config) *Translator {
	contextWindow := cfg.ContextWindow
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	targetLang := cfg.TargetLang
	if targetLang == "" {
		targetLang = "English"
	}

	cache := NewCache(cfg.CachePath)
	if err := cache.Load(); err != nil {
		logger.Warn("translation cache not loaded", logger.Err(err))
	}

	return &Translator{
		gen:           gen,
		model:         cfg.Model,
		targetLang:    targetLang,
		contextWindow: contextWindow,
		maxRetries:    maxRetries,
		baseDelay:     BaseRetryDelay,
		cache:         cache,
	}
}

// Cache returns the translation cache.
func (t *Translator) Cache() *Cache {
	return t.cache
}

func (t *Translator) providerTag() string {
	if t.model == "" {
		return "openai"
	}
	return "openai:" + t.model
}

// TranslateBatch 批量翻译，返回的结果与输入一一对应
func (t *Translator) TranslateBatch(ctx context.Context, texts []string) ([]Translation, error) {
	results := make([]Translation, len(texts))

	var pending []int
	for i, text := range texts {
		text = norm.NFC.String(strings.TrimSpace(text))
		switch {
		case text == "":
			results[i] = Translation{ProviderTag: ProviderEmpty}
		default:
			if cached, ok := t.cache.Get(t.targetLang, text); ok {
				results[i] = Translation{TranslatedText: cached, ProviderTag: ProviderCache}
				continue
			}
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return results, nil
	}

	normalized := make([]string, len(texts))
	for _, i := range pending {
		normalized[i] = norm.NFC.String(strings.TrimSpace(texts[i]))
	}

	for _, batch := range MergeBatches(pending, normalized, t.contextWindow) {
		parts, err := t.translateBatch(ctx, batch, normalized)
		if err != nil {
			return nil, err
		}
		for k, i := range batch {
			results[i] = Translation{TranslatedText: parts[k], ProviderTag: t.providerTag()}
			if parts[k] != "" {
				t.cache.Set(t.targetLang, normalized[i], parts[k])
			}
		}
	}

	if err := t.cache.Save(); err != nil {
		logger.Warn("translation cache not saved", logger.Err(err))
	}
	return results, nil
}

// MergeBatches 按上下文窗口把待翻译的下标分组，超长文本单独成批
func MergeBatches(indices []int, texts []string, contextWindow int) [][]int {
	var batches [][]int
	var current []int
	size := 0
	sep := len(BatchSeparator)

	for _, i := range indices {
		n := len(texts[i])
		if n >= contextWindow {
			if len(current) > 0 {
				batches = append(batches, current)
				current, size = nil, 0
			}
			batches = append(batches, []int{i})
			continue
		}

		add := n
		if len(current) > 0 {
			add += sep
		}
		if size+add > contextWindow {
			batches = append(batches, current)
			current, size = []int{i}, n
			continue
		}
		current = append(current, i)
		size += add
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// translateBatch translates one batch. When the model loses separators the
// bubbles are translated one at a time instead.
func (t *Translator) translateBatch(ctx context.Context, batch []int, texts []string) ([]string, error) {
	parts := make([]string, len(batch))
	for k, i := range batch {
		parts[k] = texts[i]
	}

	out, err := t.call(ctx, strings.Join(parts, BatchSeparator), len(batch))
	if err != nil {
		return nil, err
	}
	split, ok := SplitTranslated(out, len(batch))
	if ok || len(batch) == 1 {
		return split, nil
	}

	logger.Warn("batch separators lost, translating bubbles individually",
		logger.Int("expected", len(batch)))
	for k, text := range parts {
		single, err := t.call(ctx, text, 1)
		if err != nil {
			return nil, err
		}
		parts[k] = strings.TrimSpace(single)
	}
	return parts, nil
}

// SplitTranslated splits output by BatchSeparator. ok is false when the
// number of parts does not match; the result is then padded or merged to
// expected entries.
func SplitTranslated(out string, expected int) ([]string, bool) {
	parts := strings.Split(out, BatchSeparator)
	if len(parts) == 1 && expected > 1 {
		parts = strings.Split(out, strings.TrimSpace(BatchSeparator))
	}
	ok := len(parts) == expected

	result := make([]string, expected)
	for i := 0; i < expected && i < len(parts); i++ {
		result[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > expected {
		result[expected-1] = strings.TrimSpace(strings.Join(parts[expected-1:], " "))
	}
	return result, ok
}

func (t *Translator) call(ctx context.Context, text string, count int) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(t.buildSystemPrompt()),
		schema.UserMessage(t.buildUserPrompt(text, count)),
	}

	logger.Info("calling translation model",
		logger.String("model", t.model),
		logger.Int("bubbles", count),
		logger.Int("textLen", len(text)))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.baseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.maxRetries)), ctx)

	attempt := 0
	content, err := backoff.RetryWithData(func() (string, error) {
		attempt++
		resp, err := t.gen.Generate(ctx, messages)
		if err != nil {
			logger.Warn("translation attempt failed",
				logger.Int("attempt", attempt), logger.Err(err))
			return "", err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return "", fmt.Errorf("model returned empty content")
		}
		return resp.Content, nil
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return "", types.NewAppError(types.ErrTimeout, "translation cancelled", err)
		}
		return "", types.NewAppErrorWithDetails(types.ErrTranslation, "translation failed",
			fmt.Sprintf("after %d attempts", attempt), err)
	}
	return norm.NFC.String(content), nil
}

func (t *Translator) buildSystemPrompt() string {
	return `You are a professional manga translator.
Translate the dialogue of speech bubbles into ` + t.targetLang + `.

RULES:
1. The bubbles come from one page in reading order. Use the surrounding bubbles as context.
2. Keep the tone of each speaker. Sound effects stay short and punchy.
3. Output only the translated text, without notes or quotes.
4. Bubbles are separated by "` + strings.TrimSpace(BatchSeparator) + `". Keep every separator so the output has the same number of bubbles as the input.`
}

func (t *Translator) buildUserPrompt(text string, count int) string {
	return fmt.Sprintf("Translate these %d bubble(s) into %s.\n\n%s", count, t.targetLang, text)
}
