package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lorekeeper/recall/pkg/llm"
)

func TestApplyGenerateOptionsDefaults(t *testing.T) {
	opts := llm.ApplyGenerateOptions(nil)
	assert.Equal(t, 0.7, opts.Temperature)
	assert.Equal(t, 1000, opts.MaxTokens)
	assert.Equal(t, 1.0, opts.TopP)
	assert.False(t, opts.JSON)
}

func TestApplyGenerateOptionsOverrides(t *testing.T) {
	opts := llm.ApplyGenerateOptions([]llm.GenerateOption{
		llm.WithTemperature(0),
		llm.WithMaxTokens(50),
		llm.WithTopP(0.5),
		llm.WithStop("\n\n"),
		llm.WithJSON(),
	})
	assert.Equal(t, 0.0, opts.Temperature)
	assert.Equal(t, 50, opts.MaxTokens)
	assert.Equal(t, 0.5, opts.TopP)
	assert.Equal(t, []string{"\n\n"}, opts.Stop)
	assert.True(t, opts.JSON)
}
