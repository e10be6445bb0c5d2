package blobstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	store, err := NewLocalStore(root, "https://media.example.com/blobs/")
	require.NoError(t, err)
	ctx := context.Background()

	asset, err := store.Upload(ctx, []byte("png-bytes"), UploadOptions{Folder: FolderFull, Visibility: VisibilityPrivate, Extension: ".PNG"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(asset.ID, "reviv/full/"))
	require.True(t, strings.HasSuffix(asset.ID, ".png"))
	require.Equal(t, "https://media.example.com/blobs/private/"+asset.ID, asset.URL)

	stored, err := os.ReadFile(filepath.Join(root, "private", filepath.FromSlash(asset.ID)))
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(stored))

	id, ok := store.IdentifierFromURL(asset.URL)
	require.True(t, ok)
	require.Equal(t, asset.ID, id)

	require.NoError(t, store.Destroy(ctx, id, VisibilityPrivate))
	require.ErrorIs(t, store.Destroy(ctx, id, VisibilityPrivate), ErrNotFound)
}

func TestLocalStoreRejectsBadInput(t *testing.T) {
	t.Parallel()
	store, err := NewLocalStore(t.TempDir(), "https://media.example.com")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upload(ctx, nil, UploadOptions{Folder: FolderPreviews, Visibility: VisibilityPublic, Extension: "jpg"})
	require.ErrorIs(t, err, ErrInvalidUpload)
	_, err = store.Upload(ctx, []byte("x"), UploadOptions{Folder: FolderPreviews, Visibility: "secret", Extension: "jpg"})
	require.ErrorIs(t, err, ErrInvalidUpload)
	_, err = store.Upload(ctx, []byte("x"), UploadOptions{Visibility: VisibilityPublic, Extension: "jpg"})
	require.ErrorIs(t, err, ErrInvalidUpload)
	require.ErrorIs(t, store.Destroy(ctx, "../escape.png", VisibilityPublic), ErrInvalidUpload)
}

func TestLocalStoreSignsPrivateURLs(t *testing.T) {
	t.Parallel()
	current := time.Unix(1_700_000_000, 0)
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}
	store, err := NewLocalStore(t.TempDir(), "https://api.example.com/media",
		WithURLSigning([]byte("media-key"), 10*time.Minute, now))
	require.NoError(t, err)
	ctx := context.Background()

	preview, err := store.Upload(ctx, []byte("jpeg"), UploadOptions{Folder: FolderPreviews, Visibility: VisibilityPublic, Extension: "jpg"})
	require.NoError(t, err)
	full, err := store.Upload(ctx, []byte("png"), UploadOptions{Folder: FolderFull, Visibility: VisibilityPrivate, Extension: "png"})
	require.NoError(t, err)
	other, err := store.Upload(ctx, []byte("png"), UploadOptions{Folder: FolderFull, Visibility: VisibilityPrivate, Extension: "png"})
	require.NoError(t, err)

	unchanged, err := store.SignedURL(ctx, preview.URL)
	require.NoError(t, err)
	require.Equal(t, preview.URL, unchanged)

	signed, err := store.SignedURL(ctx, full.URL)
	require.NoError(t, err)
	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, strings.TrimPrefix(full.URL, "https://api.example.com"), parsed.Path)
	token := parsed.Query().Get(SignedURLTokenParam)
	require.NotEmpty(t, token)

	target, err := store.ResolvePrivate(full.ID, token)
	require.NoError(t, err)
	contents, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "png", string(contents))

	_, err = store.ResolvePrivate(other.ID, token)
	require.ErrorIs(t, err, ErrInvalidSignature)
	_, err = store.ResolvePrivate(full.ID, token+"x")
	require.ErrorIs(t, err, ErrInvalidSignature)
	_, err = store.ResolvePrivate(full.ID, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
	_, err = store.ResolvePrivate("../public/"+preview.ID, token)
	require.ErrorIs(t, err, ErrInvalidUpload)

	clockMu.Lock()
	current = current.Add(11 * time.Minute)
	clockMu.Unlock()
	_, err = store.ResolvePrivate(full.ID, token)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLocalStoreWithoutSigningKeepsPrivateClosed(t *testing.T) {
	t.Parallel()
	store, err := NewLocalStore(t.TempDir(), "https://api.example.com/media", WithURLSigning(nil, 0, nil))
	require.NoError(t, err)
	ctx := context.Background()
	full, err := store.Upload(ctx, []byte("png"), UploadOptions{Folder: FolderFull, Visibility: VisibilityPrivate, Extension: "png"})
	require.NoError(t, err)

	signed, err := store.SignedURL(ctx, full.URL)
	require.NoError(t, err)
	require.Equal(t, full.URL, signed)
	_, err = store.ResolvePrivate(full.ID, "anything")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIdentifierFromURL(t *testing.T) {
	t.Parallel()
	testCases := map[string]string{
		"https://cdn.example.com/public/reviv/previews/a.jpg":         "reviv/previews/a.jpg",
		"s3://bucket/private/reviv/full/b.png":                        "reviv/full/b.png",
		"https://bucket.s3.amazonaws.com/public/reviv/originals/c.jp": "reviv/originals/c.jp",
		"https://cdn.example.com/other/a.jpg":                         "",
		"https://cdn.example.com/public/a.jpg":                        "",
		"":                                                            "",
	}
	for rawURL, want := range testCases {
		got, ok := identifierFromURL(rawURL)
		require.Equal(t, want != "", ok, rawURL)
		require.Equal(t, want, got, rawURL)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	fail    error
}

func (client *fakeS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if client.fail != nil {
		return nil, client.fail
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	client.objects[*input.Key] = body
	if input.ContentType != nil {
		client.types[*input.Key] = *input.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (client *fakeS3) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if client.fail != nil {
		return nil, client.fail
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	delete(client.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example.com/" + *input.Key + "?X-Amz-Signature=abc"}, nil
}

func TestS3StoreUploadAndDestroy(t *testing.T) {
	t.Parallel()
	client := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	store, err := NewS3StoreWithClient(client, fakePresigner{}, S3Config{Bucket: "reviv-media", PublicBaseURL: "https://cdn.reviv.pics/"})
	require.NoError(t, err)
	ctx := context.Background()

	preview, err := store.Upload(ctx, []byte("jpeg"), UploadOptions{Folder: FolderPreviews, Visibility: VisibilityPublic, ContentType: "image/jpeg", Extension: "jpg"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.reviv.pics/public/"+preview.ID, preview.URL)
	require.Equal(t, "image/jpeg", client.types["public/"+preview.ID])

	full, err := store.Upload(ctx, []byte("png"), UploadOptions{Folder: FolderFull, Visibility: VisibilityPrivate, ContentType: "image/png", Extension: "png"})
	require.NoError(t, err)
	require.Equal(t, "s3://reviv-media/private/"+full.ID, full.URL)

	signed, err := store.SignedURL(ctx, full.URL)
	require.NoError(t, err)
	require.Equal(t, "https://signed.example.com/private/"+full.ID+"?X-Amz-Signature=abc", signed)
	unchanged, err := store.SignedURL(ctx, preview.URL)
	require.NoError(t, err)
	require.Equal(t, preview.URL, unchanged)

	require.NoError(t, store.Destroy(ctx, full.ID, VisibilityPrivate))
	require.NotContains(t, client.objects, "private/"+full.ID)
}

func TestS3StoreWrapsClientErrors(t *testing.T) {
	t.Parallel()
	client := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}, fail: errors.New("access denied")}
	store, err := NewS3StoreWithClient(client, nil, S3Config{Bucket: "reviv-media"})
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), []byte("x"), UploadOptions{Folder: FolderOriginals, Visibility: VisibilityPublic, Extension: "jpg"})
	require.ErrorContains(t, err, "access denied")
	require.ErrorContains(t, store.Destroy(context.Background(), "reviv/originals/a.jpg", VisibilityPublic), "access denied")
}
