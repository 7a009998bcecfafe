// Package safeio provides the small I/O guards shared by the collector and
// its clients: path containment, partition name checks, bounded reads and
// atomic file writes.
package safeio

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// MaxResponseBody is the default cap for HTTP response body reads (16 MiB).
// A prepared X.npy for a few hundred 28x28 drawings stays far below it.
const MaxResponseBody int64 = 16 << 20

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("safeio: path traversal detected")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("safeio: only http and https schemes are allowed")

// SafePath joins base and name and verifies the result stays under base.
func SafePath(base, name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+name))
	root := filepath.Clean(base)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateName rejects names unsuitable as a single directory or file name.
// Allows lowercase letters, digits, underscore and hyphen.
func ValidateName(s string) error {
	if s == "" {
		return fmt.Errorf("safeio: name must not be empty")
	}
	if len(s) > 64 {
		return fmt.Errorf("safeio: name too long (max 64)")
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' && r != '-' {
			return fmt.Errorf("safeio: invalid character %q in name %q", r, s)
		}
	}
	return nil
}

// ValidateBaseURL checks that raw is an absolute http(s) URL with a host.
// Loopback and private hosts are allowed: collectors usually run next to
// the client.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("safeio: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("safeio: URL has no host")
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and fails beyond that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("safeio: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// writeTemp writes data to a fresh temp file next to target and returns its name.
func writeTemp(target string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("safeio: create tmp: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("safeio: write tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("safeio: close tmp: %w", err)
	}
	return tmp, nil
}

// WriteFileAtomic writes data to a temp file and renames it over path.
// Readers see either the old content or the new, never a partial file.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("safeio: rename: %w", err)
	}
	return nil
}

// WriteFileExclusive is WriteFileAtomic that refuses to replace an existing
// file. It returns an error matching os.ErrExist when path is taken.
func WriteFileExclusive(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("safeio: %s: %w", filepath.Base(path), os.ErrExist)
		}
		return fmt.Errorf("safeio: link: %w", err)
	}
	return nil
}
