// Package blob stores attachments (certificates, document files) under opaque
// keys of the form prefix/YYYYMMDDTHHMMSSZ-xxxxxxxx_name in a gocloud bucket.
// Local directories use fileblob; s3:// URLs use s3blob.
package blob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	gcblob "gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// ErrNotFound is returned by Open for unknown keys.
var ErrNotFound = errors.New("attachment not found")

// ErrEmpty is returned by Put for zero-length uploads.
var ErrEmpty = errors.New("empty file")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFilename reduces name to a base name made of [A-Za-z0-9._-].
func SafeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._-")
	if name == "" {
		return "file"
	}
	return name
}

// Store keeps attachments in a bucket.
type Store struct {
	bucket *gcblob.Bucket
	now    func() time.Time
	suffix func() string
}

// NewFileStore opens a bucket backed by the local directory root, creating it if needed.
func NewFileStore(root string) (*Store, error) {
	b, err := fileblob.OpenBucket(root, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("open attachments dir: %w", err)
	}
	return newStore(b), nil
}

// OpenURL opens a bucket by URL, e.g. "s3://bucket?region=eu-west-1" or
// "file:///var/lib/labgate/attachments".
func OpenURL(ctx context.Context, url string) (*Store, error) {
	b, err := gcblob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open attachments bucket: %w", err)
	}
	return newStore(b), nil
}

func newStore(b *gcblob.Bucket) *Store {
	return &Store{
		bucket: b,
		now:    time.Now,
		suffix: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// key builds a new key below prefix. The random suffix keeps two uploads of
// the same name within one second apart.
func (s *Store) key(prefix, filename string) string {
	return fmt.Sprintf("%s/%s-%s_%s",
		cleanPrefix(prefix), s.now().UTC().Format("20060102T150405Z"), s.suffix(), SafeFilename(filename))
}

// Put writes body under a new key below prefix and returns the key.
func (s *Store) Put(ctx context.Context, prefix, filename string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	br := bufio.NewReader(body)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrEmpty
		}
		return "", fmt.Errorf("read attachment: %w", err)
	}

	key := s.key(prefix, filename)
	if err := s.bucket.Upload(ctx, key, br, nil); err != nil {
		return "", fmt.Errorf("store attachment: %w", err)
	}
	return key, nil
}

// Open returns a reader for key. The caller closes it.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	r, err := s.bucket.NewReader(ctx, key, nil)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := s.bucket.Delete(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func cleanPrefix(prefix string) string {
	var out []string
	for _, p := range strings.Split(prefix, "/") {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, SafeFilename(p))
	}
	if len(out) == 0 {
		return "misc"
	}
	return strings.Join(out, "/")
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid attachment key %q", key)
	}
	return nil
}
