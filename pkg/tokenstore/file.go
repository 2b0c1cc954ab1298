package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// File persists the token pair as YAML. The file is written with 0600
// permissions and replaced atomically.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file store at path. The file need not exist yet.
func NewFile(path string) (*File, error) {
	clean, err := validatePath(path)
	if err != nil {
		return nil, err
	}

	return &File{path: clean}, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// GetAccessToken returns the stored access token.
func (f *File) GetAccessToken(ctx context.Context) (string, error) {
	pair, err := f.Load(ctx)
	if err != nil || pair == nil {
		return "", err
	}

	return pair.AccessToken, nil
}

// GetRefreshToken returns the stored refresh token.
func (f *File) GetRefreshToken(ctx context.Context) (string, error) {
	pair, err := f.Load(ctx)
	if err != nil || pair == nil {
		return "", err
	}

	return pair.RefreshToken, nil
}

// SetTokens writes pair to the file.
func (f *File) SetTokens(ctx context.Context, pair *api.TokenPair) error {
	if pair == nil {
		return constants.ErrNilTokenPair
	}

	data, err := yaml.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens to YAML: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err = os.MkdirAll(filepath.Dir(f.path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp := f.path + ".tmp"

	err = os.WriteFile(tmp, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	err = os.Rename(tmp, f.path)
	if err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to replace token file: %w", err)
	}

	return nil
}

// Clear removes the file.
func (f *File) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}

	return nil
}

// Load returns the stored pair, or nil when the file does not exist.
func (f *File) Load(ctx context.Context) (*api.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// path is validated in NewFile
	// #nosec G304
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // a missing file is an empty store
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var pair api.TokenPair

	err = yaml.Unmarshal(data, &pair)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}

	return &pair, nil
}

// validatePath rejects absolute paths that are not clean and relative paths
// that escape the working directory.
func validatePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", constants.ErrTokenPathRequired
	}

	clean := filepath.Clean(path)

	if filepath.IsAbs(path) {
		if clean != path {
			return "", constants.ErrDirectoryTraversalDetected
		}

		return clean, nil
	}

	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", constants.ErrDirectoryTraversalDetected
	}

	return clean, nil
}
