package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/sysfwd/cfg"
	"github.com/maxpert/sysfwd/forwarder"
)

// Source is a snapshot fetcher holding connections or storage
type Source interface {
	forwarder.Fetcher
	Close() error
}

// Factory creates a Source from the configuration
type Factory func(conf *cfg.Configuration) (Source, error)

var (
	factories = make(map[cfg.SourceType]Factory)
	factoryMu sync.RWMutex
)

// Register registers a source factory for a type
func Register(sourceType cfg.SourceType, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[sourceType] = factory
}

// New creates the source selected by conf.Source.Type
func New(conf *cfg.Configuration) (Source, error) {
	factoryMu.RLock()
	factory, exists := factories[conf.Source.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown source type: %s", conf.Source.Type)
	}

	src, err := factory(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s source: %w", conf.Source.Type, err)
	}

	log.Info().Str("type", string(conf.Source.Type)).Msg("Snapshot source created")
	return src, nil
}

// Types returns the registered source types
func Types() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return types
}
