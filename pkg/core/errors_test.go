package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lorekeeper/recall/pkg/core"
)

func TestRecallError(t *testing.T) {
	err := core.NewRecallError("Import", core.ErrEmbeddingFailed)
	assert.EqualError(t, err, "recall: Import: embedding generation failed")
	assert.ErrorIs(t, err, core.ErrEmbeddingFailed)

	var re *core.RecallError
	assert.True(t, errors.As(err, &re))
	assert.Equal(t, "Import", re.Op)
}

func TestNewRecallErrorNil(t *testing.T) {
	assert.NoError(t, core.NewRecallError("Search", nil))
}
