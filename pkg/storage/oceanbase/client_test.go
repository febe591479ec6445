package oceanbase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oceanbaseStore "github.com/lorekeeper/recall/pkg/storage/oceanbase"
)

func TestConfigDSN(t *testing.T) {
	cfg := &oceanbaseStore.Config{Host: "127.0.0.1", Port: 2881, User: "root@test", Password: "secret", DBName: "recall"}
	assert.Equal(t, "root@test:secret@tcp(127.0.0.1:2881)/recall?parseTime=true&loc=UTC", cfg.DSN())
}

func TestNewClientRejectsMissingDimensions(t *testing.T) {
	_, err := oceanbaseStore.NewClient(&oceanbaseStore.Config{Host: "127.0.0.1", Port: 2881})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}
