package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/actionq/internal/logbook"
	"github.com/you/actionq/internal/store"
)

func TestConfigRequiresEveryEndpoint(t *testing.T) {
	c := NewConfig()

	_, err := c.SourceStore()
	assert.Error(t, err)
	_, err = c.DestinationStore()
	assert.Error(t, err)
	_, err = c.SourceBook()
	assert.Error(t, err)
	_, err = c.DestinationBook()
	assert.Error(t, err)

	c.SetSourceStore(store.NewMemory(nil)).
		SetDestinationStore(store.NewMemory(nil)).
		SetSourceBook(logbook.NewMemory()).
		SetDestinationBook(logbook.NewMemory())

	_, err = c.SourceStore()
	require.NoError(t, err)
	_, err = c.DestinationStore()
	require.NoError(t, err)
	_, err = c.SourceBook()
	require.NoError(t, err)
	_, err = c.DestinationBook()
	require.NoError(t, err)
}

func TestConfigDryRun(t *testing.T) {
	assert.False(t, NewConfig().DryRun())
	assert.True(t, NewConfig().SetDryRun(true).DryRun())
}

func TestNewRunnerRejectsHalfBuiltConfig(t *testing.T) {
	_, err := NewRunner(NewConfig())
	assert.Error(t, err)

	_, err = NewRunner(NewConfig().
		SetSourceStore(store.NewMemory(nil)).
		SetDestinationStore(store.NewMemory(nil)))
	assert.Error(t, err, "logbooks are required too")
}
