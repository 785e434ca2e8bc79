package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type AssetKind string

const (
	AssetImage AssetKind = "images"
	AssetAudio AssetKind = "audio"
)

// AssetStore persists generated binaries and hands back stable relative
// paths.
type AssetStore interface {
	Save(ctx context.Context, kind AssetKind, data []byte, mimeType string) (string, error)
	Open(rel string) (io.ReadCloser, error)
}

// FSStore lays artifacts out as generated/<kind>/YYYY/MM/<ulid>.<ext> under
// Root.
type FSStore struct {
	Root string
	now  func() time.Time
}

func NewFSStore(root string) *FSStore {
	return &FSStore{Root: root, now: time.Now}
}

func (s *FSStore) Save(ctx context.Context, kind AssetKind, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("empty artifact")
	}
	switch kind {
	case AssetImage, AssetAudio:
	default:
		return "", fmt.Errorf("unknown asset kind %q", kind)
	}
	now := s.now().UTC()
	rel := path.Join("generated", string(kind), now.Format("2006"), now.Format("01"), ulid.Make().String()+"."+extensionFor(mimeType))
	abs := filepath.Join(s.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", err
	}
	return rel, nil
}

func (s *FSStore) Open(rel string) (io.ReadCloser, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// Resolve maps a stored relative path back onto the filesystem, refusing
// paths that escape Root.
func (s *FSStore) Resolve(rel string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(rel))
	if clean == "/" || !strings.HasPrefix(clean, "/generated/") {
		return "", fmt.Errorf("invalid asset path %q", rel)
	}
	return filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func extensionFor(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg", "audio/opus":
		return "opus"
	case "audio/aac":
		return "aac"
	case "audio/flac":
		return "flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	default:
		return "bin"
	}
}
