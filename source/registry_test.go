package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/sysfwd/cfg"
)

func TestRegisteredTypes(t *testing.T) {
	assert.Equal(t, []string{"journal", "kafka", "nats", "symcon"}, Types())
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(&cfg.Configuration{Source: cfg.SourceConfiguration{Type: "mqtt"}})
	assert.Error(t, err)
}

func TestNewJournalSource(t *testing.T) {
	conf := &cfg.Configuration{
		DataDir: t.TempDir(),
		Source: cfg.SourceConfiguration{
			Type:    cfg.SourceJournal,
			Journal: cfg.JournalConfiguration{BatchSize: 10},
		},
	}

	src, err := New(conf)
	require.NoError(t, err)
	defer src.Close()

	j, ok := src.(*Journal)
	require.True(t, ok)
	assert.Equal(t, 10, j.batchSize)

	_, ok = src.(Appender)
	assert.True(t, ok)
}

func TestNewSymconSource(t *testing.T) {
	conf := &cfg.Configuration{
		Source: cfg.SourceConfiguration{
			Type:   cfg.SourceSymcon,
			Symcon: cfg.SymconConfiguration{URL: "http://127.0.0.1:3777/api/", TimeoutSeconds: 3},
		},
	}

	src, err := New(conf)
	require.NoError(t, err)
	defer src.Close()

	s, ok := src.(*SymconFetcher)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:3777/api/", s.config.URL)
}
