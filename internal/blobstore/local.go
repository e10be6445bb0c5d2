package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SignedURLTokenParam carries the access token on signed private URLs.
	SignedURLTokenParam = "token"
	defaultSignedURLTTL = 15 * time.Minute
)

// ErrInvalidSignature is returned for private artifact requests without a valid token.
var ErrInvalidSignature = errors.New("invalid blob url signature")

// LocalStore keeps artifacts on disk under BaseURL/{visibility}/{id}.
// Public artifacts are served as is; private ones only through SignedURL tokens.
type LocalStore struct {
	root       string
	baseURL    string
	signingKey []byte
	signedTTL  time.Duration
	now        func() time.Time
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithURLSigning enables short-lived HS256 tokens for private artifacts.
// An empty key leaves signing off.
func WithURLSigning(key []byte, ttl time.Duration, now func() time.Time) LocalOption {
	return func(store *LocalStore) {
		if len(key) == 0 {
			return
		}
		store.signingKey = append([]byte(nil), key...)
		if ttl > 0 {
			store.signedTTL = ttl
		}
		if now != nil {
			store.now = now
		}
	}
}

type privateAccessClaims struct {
	jwt.RegisteredClaims
}

// NewLocalStore creates the visibility directories under root.
func NewLocalStore(root string, baseURL string, options ...LocalOption) (*LocalStore, error) {
	trimmedRoot := strings.TrimSpace(root)
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedRoot == "" || trimmedBase == "" {
		return nil, fmt.Errorf("%w: local store needs a root and a base url", ErrInvalidUpload)
	}
	for _, visibility := range []Visibility{VisibilityPublic, VisibilityPrivate} {
		if err := os.MkdirAll(filepath.Join(trimmedRoot, string(visibility)), 0o755); err != nil {
			return nil, fmt.Errorf("create blob directory: %w", err)
		}
	}
	store := &LocalStore{
		root:      trimmedRoot,
		baseURL:   trimmedBase,
		signedTTL: defaultSignedURLTTL,
		now:       time.Now,
	}
	for _, option := range options {
		option(store)
	}
	return store, nil
}

// Root returns the directory artifacts are written to.
func (store *LocalStore) Root() string {
	return store.root
}

func (store *LocalStore) Upload(_ context.Context, data []byte, options UploadOptions) (Asset, error) {
	if len(data) == 0 {
		return Asset{}, fmt.Errorf("%w: empty payload", ErrInvalidUpload)
	}
	id, err := newObjectID(options)
	if err != nil {
		return Asset{}, err
	}
	target := store.path(options.Visibility, id)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Asset{}, fmt.Errorf("create blob folder: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return Asset{}, fmt.Errorf("write blob: %w", err)
	}
	return Asset{ID: id, URL: store.baseURL + "/" + objectKey(options.Visibility, id)}, nil
}

func (store *LocalStore) Destroy(_ context.Context, id string, visibility Visibility) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := ParseVisibility(string(visibility)); err != nil {
		return err
	}
	err := os.Remove(store.path(visibility, id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

func (store *LocalStore) IdentifierFromURL(rawURL string) (string, bool) {
	return identifierFromURL(rawURL)
}

// SignedURL appends an access token to private artifact URLs.
// Public URLs, foreign URLs and stores without a signing key return rawURL unchanged.
func (store *LocalStore) SignedURL(_ context.Context, rawURL string) (string, error) {
	key, ok := strings.CutPrefix(rawURL, store.baseURL+"/")
	if !ok || len(store.signingKey) == 0 {
		return rawURL, nil
	}
	id, private := strings.CutPrefix(key, string(VisibilityPrivate)+"/")
	if !private {
		return rawURL, nil
	}
	if err := validateID(id); err != nil {
		return "", err
	}
	issuedAt := store.now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, privateAccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   objectKey(VisibilityPrivate, id),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(store.signedTTL)),
		},
	}).SignedString(store.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign blob url: %w", err)
	}
	values := url.Values{}
	values.Set(SignedURLTokenParam, token)
	return rawURL + "?" + values.Encode(), nil
}

// ResolvePrivate checks token against the private artifact id and returns its file path.
func (store *LocalStore) ResolvePrivate(id string, token string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	if len(store.signingKey) == 0 || token == "" {
		return "", ErrInvalidSignature
	}
	claims := &privateAccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return store.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(store.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Subject != objectKey(VisibilityPrivate, id) {
		return "", fmt.Errorf("%w: token issued for another artifact", ErrInvalidSignature)
	}
	target := store.path(VisibilityPrivate, id)
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return target, nil
}

// PublicDir is the directory holding public artifacts.
func (store *LocalStore) PublicDir() string {
	return filepath.Join(store.root, string(VisibilityPublic))
}

func (store *LocalStore) path(visibility Visibility, id string) string {
	return filepath.Join(store.root, string(visibility), filepath.FromSlash(id))
}
