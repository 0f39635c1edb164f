package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// Layer is one merged, flattened feature collection ready for rendering.
type Layer struct {
	Key         string                   `json:"key"`
	Generation  uint64                   `json:"generation"`
	Collection  models.FeatureCollection `json:"collection"`
	Symbols     []string                 `json:"symbols"`
	PublishedAt time.Time                `json:"publishedAt"`
}

// Publisher hands a layer to the renderer. The returned release func frees
// the layer's resources once a newer layer has replaced it.
type Publisher interface {
	Publish(layer Layer) (release func(), err error)
}

// LayerStore is the default Publisher: it keeps the current layer and its
// serialized collection for the HTTP surface.
type LayerStore struct {
	mu      sync.RWMutex
	current *storedLayer
}

type storedLayer struct {
	mu       sync.Mutex
	layer    Layer
	document []byte
}

// NewLayerStore returns an empty LayerStore.
func NewLayerStore() *LayerStore {
	return &LayerStore{}
}

// Publish serializes layer.Collection and makes it current.
func (s *LayerStore) Publish(layer Layer) (func(), error) {
	doc, err := json.Marshal(layer.Collection)
	if err != nil {
		return nil, fmt.Errorf("encode layer %s: %w", layer.Key, err)
	}
	stored := &storedLayer{layer: layer, document: doc}

	s.mu.Lock()
	s.current = stored
	s.mu.Unlock()
	observability.PublishedFeatures.Set(float64(len(layer.Collection.Features)))

	return func() {
		stored.mu.Lock()
		defer stored.mu.Unlock()
		stored.document = nil
		stored.layer.Collection = models.FeatureCollection{}
	}, nil
}

// Current returns the current layer and its serialized collection. ok is false
// before the first publish.
func (s *LayerStore) Current() (layer Layer, document []byte, ok bool) {
	s.mu.RLock()
	stored := s.current
	s.mu.RUnlock()
	if stored == nil {
		return Layer{}, nil, false
	}
	stored.mu.Lock()
	defer stored.mu.Unlock()
	if stored.document == nil {
		return Layer{}, nil, false
	}
	return stored.layer, stored.document, true
}

// Symbols returns the reachable icon URLs of the current layer.
func (s *LayerStore) Symbols() []string {
	layer, _, ok := s.Current()
	if !ok || layer.Symbols == nil {
		return []string{}
	}
	return layer.Symbols
}
