package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/sd8capricon/graph-rag/internal/util"
	"github.com/sd8capricon/graph-rag/pkg/common"
)

// GraphFile is one source file of an ingestion job. Path is an S3 key
// (s3://bucket/key or a plain key), an http(s) URL or a local path.
//
// The actual file content is retrieved via the associated GraphFileLoader.
type GraphFile struct {
	ID     string
	Name   string
	Path   string
	Loader GraphFileLoader
}

// GraphFileLoader loads the raw contents of a GraphFile.
// Implementations may load files from disk, cloud storage, or the web.
type GraphFileLoader interface {
	GetFileText(ctx context.Context, file GraphFile) ([]byte, error)
}

// Metadata returns the identity stored on the graph's File node.
func (f GraphFile) Metadata() common.FileMetadata {
	name := f.Name
	if name == "" {
		name = f.Path[strings.LastIndex(f.Path, "/")+1:]
	}
	return common.FileMetadata{ID: f.ID, Name: name}
}

// GetText retrieves the sanitized text content of the file using its Loader.
//
// Example:
//
//	text, err := file.GetText(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(text)
func (f GraphFile) GetText(ctx context.Context) (string, error) {
	if f.Loader == nil {
		return "", fmt.Errorf("no loader configured for file %s", f.ID)
	}
	b, err := f.Loader.GetFileText(ctx, f)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", f.Path, err)
	}
	return util.SanitizeText(string(b)), nil
}

// CacheKey identifies a file's contents in loader caches.
func CacheKey(file GraphFile) string {
	return file.ID + ":" + file.Path
}

// Router dispatches to a loader by the scheme of the file path. A nil
// target makes files with that scheme fail to load.
type Router struct {
	S3    GraphFileLoader
	Web   GraphFileLoader
	Local GraphFileLoader
}

// Scheme classifies a path as "s3", "web" or "local".
func Scheme(path string) string {
	switch {
	case strings.HasPrefix(path, "s3://"):
		return "s3"
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return "web"
	}
	return "local"
}

func (r *Router) GetFileText(ctx context.Context, file GraphFile) ([]byte, error) {
	var target GraphFileLoader
	switch Scheme(file.Path) {
	case "s3":
		target = r.S3
	case "web":
		target = r.Web
	default:
		target = r.Local
	}
	if target == nil {
		return nil, fmt.Errorf("no loader for path %q", file.Path)
	}
	return target.GetFileText(ctx, file)
}
