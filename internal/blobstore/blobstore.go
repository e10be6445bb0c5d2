// Package blobstore stores job artifacts behind a small upload/destroy contract.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Visibility decides whether an artifact is publicly reachable.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Folders used for job artifacts.
const (
	FolderOriginals = "reviv/originals"
	FolderPreviews  = "reviv/previews"
	FolderFull      = "reviv/full"
)

var (
	ErrInvalidUpload = errors.New("invalid blob upload")
	ErrNotFound      = errors.New("blob not found")
)

// UploadOptions describe where and how an artifact is stored.
type UploadOptions struct {
	Folder      string
	Visibility  Visibility
	ContentType string
	Extension   string
}

// Asset is a stored artifact.
type Asset struct {
	ID  string
	URL string
}

// Store is implemented by every blob backend.
type Store interface {
	Upload(ctx context.Context, data []byte, options UploadOptions) (Asset, error)
	Destroy(ctx context.Context, id string, visibility Visibility) error
	IdentifierFromURL(rawURL string) (string, bool)
	// SignedURL returns a URL the owner can fetch a stored artifact from.
	SignedURL(ctx context.Context, rawURL string) (string, error)
}

// ParseVisibility validates a visibility value.
func ParseVisibility(raw string) (Visibility, error) {
	switch Visibility(strings.ToLower(strings.TrimSpace(raw))) {
	case VisibilityPublic:
		return VisibilityPublic, nil
	case VisibilityPrivate:
		return VisibilityPrivate, nil
	default:
		return "", fmt.Errorf("%w: visibility %q", ErrInvalidUpload, raw)
	}
}

// newObjectID builds "folder/uuid.ext".
func newObjectID(options UploadOptions) (string, error) {
	if _, err := ParseVisibility(string(options.Visibility)); err != nil {
		return "", err
	}
	folder := strings.Trim(path.Clean("/"+strings.TrimSpace(options.Folder)), "/")
	if folder == "" || folder == "." {
		return "", fmt.Errorf("%w: folder is required", ErrInvalidUpload)
	}
	extension := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(options.Extension)), ".")
	if extension == "" {
		return "", fmt.Errorf("%w: extension is required", ErrInvalidUpload)
	}
	return folder + "/" + uuid.NewString() + "." + extension, nil
}

func objectKey(visibility Visibility, id string) string {
	return string(visibility) + "/" + id
}

// identifierFromURL returns the path after the first visibility segment.
func identifierFromURL(rawURL string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Path == "" {
		return "", false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for index, segment := range segments {
		if segment != string(VisibilityPublic) && segment != string(VisibilityPrivate) {
			continue
		}
		rest := segments[index+1:]
		if len(rest) < 2 {
			return "", false
		}
		return strings.Join(rest, "/"), true
	}
	return "", false
}

func validateID(id string) error {
	cleaned := path.Clean("/" + id)
	if id == "" || strings.Contains(id, "..") || cleaned != "/"+id {
		return fmt.Errorf("%w: object id %q", ErrInvalidUpload, id)
	}
	return nil
}
