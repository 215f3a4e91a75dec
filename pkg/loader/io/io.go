package io

import (
	"context"
	"os"

	"github.com/sd8capricon/graph-rag/pkg/loader"
)

// IOGraphFileLoader loads files directly from the local filesystem with caching.
type IOGraphFileLoader struct {
	cache *loader.Cache
}

// NewIOGraphFileLoader creates a new filesystem-based file loader.
func NewIOGraphFileLoader() *IOGraphFileLoader {
	return &IOGraphFileLoader{cache: loader.NewCache()}
}

// GetFileText reads the file content from the filesystem. Results are cached.
func (l *IOGraphFileLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.cache.Load(file, func() ([]byte, error) {
		return os.ReadFile(file.Path)
	})
}
