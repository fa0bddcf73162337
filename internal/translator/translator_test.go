package translator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-translator/internal/types"
)

// fakeGenerator upper-cases every bubble and keeps separators unless told
// to drop them.
type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	dropSep   bool
	prompts   []string
}

func (f *fakeGenerator) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("rate limited")
	}
	user := input[len(input)-1].Content
	f.prompts = append(f.prompts, user)
	body := user[strings.Index(user, "\n\n")+2:]
	out := strings.ToUpper(body)
	if f.dropSep {
		out = strings.ReplaceAll(out, strings.ToUpper(BatchSeparator), " ")
	}
	return schema.AssistantMessage(out, nil), nil
}

func newTestTranslator(gen Generator, cfg Config) *Translator {
	tr := NewTranslatorWithGenerator(gen, cfg)
	tr.baseDelay = time.Millisecond
	return tr
}

func TestTranslateBatchKeepsOrder(t *testing.T) {
	gen := &fakeGenerator{}
	tr := newTestTranslator(gen, Config{Model: "test", MaxRetries: 0})

	got, err := tr.TranslateBatch(context.Background(), []string{"hello", "", "  world  "})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "HELLO", got[0].TranslatedText)
	assert.Equal(t, "openai:test", got[0].ProviderTag)
	assert.Equal(t, "", got[1].TranslatedText)
	assert.Equal(t, ProviderEmpty, got[1].ProviderTag)
	assert.Equal(t, "WORLD", got[2].TranslatedText)
	assert.Equal(t, 1, gen.calls, "one prompt for the whole page")
}

func TestTranslateBatchUsesCache(t *testing.T) {
	gen := &fakeGenerator{}
	path := filepath.Join(t.TempDir(), "cache.json")
	tr := newTestTranslator(gen, Config{Model: "test", CachePath: path})

	_, err := tr.TranslateBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)

	got, err := tr.TranslateBatch(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, ProviderCache, got[0].ProviderTag)
	assert.Equal(t, 1, gen.calls)

	// 缓存落盘后可被新实例读取
	reloaded := newTestTranslator(&fakeGenerator{}, Config{CachePath: path})
	assert.Equal(t, 1, reloaded.Cache().Size())
}

func TestTranslateBatchRetries(t *testing.T) {
	gen := &fakeGenerator{failFirst: 2}
	tr := newTestTranslator(gen, Config{MaxRetries: 3})

	got, err := tr.TranslateBatch(context.Background(), []string{"again"})
	require.NoError(t, err)
	assert.Equal(t, "AGAIN", got[0].TranslatedText)
	assert.Equal(t, 3, gen.calls)
}

func TestTranslateBatchGivesUp(t *testing.T) {
	gen := &fakeGenerator{failFirst: 10}
	tr := newTestTranslator(gen, Config{MaxRetries: 1})

	_, err := tr.TranslateBatch(context.Background(), []string{"never"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTranslation, types.CodeOf(err))
	assert.Equal(t, 2, gen.calls)
}

func TestTranslateBatchCancelled(t *testing.T) {
	gen := &fakeGenerator{failFirst: 10}
	tr := newTestTranslator(gen, Config{MaxRetries: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.TranslateBatch(ctx, []string{"late"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.CodeOf(err))
}

func TestTranslateBatchLostSeparators(t *testing.T) {
	gen := &fakeGenerator{dropSep: true}
	tr := newTestTranslator(gen, Config{})

	got, err := tr.TranslateBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, "ONE", got[0].TranslatedText)
	assert.Equal(t, "TWO", got[1].TranslatedText)
	assert.Equal(t, 3, gen.calls)
}

func TestMergeBatches(t *testing.T) {
	texts := []string{"aaaa", "bbbb", strings.Repeat("c", 50), "dddd"}
	sep := len(BatchSeparator)
	window := 8 + sep

	batches := MergeBatches([]int{0, 1, 2, 3}, texts, window)
	assert.Equal(t, [][]int{{0, 1}, {2}, {3}}, batches)

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, 4, total)
	assert.Nil(t, MergeBatches(nil, texts, window))
}

func TestSplitTranslated(t *testing.T) {
	parts, ok := SplitTranslated("A"+BatchSeparator+"B", 2)
	assert.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, parts)

	parts, ok = SplitTranslated("A", 2)
	assert.False(t, ok)
	assert.Equal(t, []string{"A", ""}, parts)

	parts, ok = SplitTranslated("A"+BatchSeparator+"B"+BatchSeparator+"C", 2)
	assert.False(t, ok)
	assert.Equal(t, []string{"A", "B C"}, parts)

	// 模型吞掉换行时仍能按分隔符拆分
	parts, ok = SplitTranslated("A ---BUBBLE_SEPARATOR--- B", 2)
	assert.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, parts)
}

func TestCacheKeyIncludesLanguage(t *testing.T) {
	c := NewCache("")
	c.Set("English", "こんにちは", "Hello")
	_, ok := c.Get("Spanish", "こんにちは")
	assert.False(t, ok)
	v, ok := c.Get("English", "こんにちは")
	assert.True(t, ok)
	assert.Equal(t, "Hello", v)
	assert.NoError(t, c.Save())
}
