package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/justraw/friction/pkg/provider/embeddings"
	"github.com/justraw/friction/pkg/provider/image"
	"github.com/justraw/friction/pkg/provider/llm"
	"github.com/justraw/friction/pkg/provider/stt"
	"github.com/justraw/friction/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	tts        map[string]func(ProviderEntry) (tts.Provider, error)
	image      map[string]func(ProviderEntry) (image.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:        make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts:        make(map[string]func(ProviderEntry) (tts.Provider, error)),
		image:      make(map[string]func(ProviderEntry) (image.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterImage registers an image provider factory under name.
func (r *Registry) RegisterImage(name string, factory func(ProviderEntry) (image.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM instantiates the LLM provider named in entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates the STT provider named in entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates the TTS provider named in entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateImage instantiates the image provider named in entry.
func (r *Registry) CreateImage(entry ProviderEntry) (image.Provider, error) {
	r.mu.RLock()
	factory, ok := r.image[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: image %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates the embeddings provider named in entry.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
