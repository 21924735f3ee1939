package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// YAMLLoader loads manifests from YAML files. Unknown keys are rejected.
type YAMLLoader struct {
	fs   FileSystem
	path string
}

// NewYAMLLoader creates a new YAML loader for the given path.
func NewYAMLLoader(path string) *YAMLLoader {
	return &YAMLLoader{
		fs:   DefaultFS(),
		path: path,
	}
}

// NewYAMLLoaderWithFS creates a YAML loader with a custom file system.
func NewYAMLLoaderWithFS(fsys FileSystem, path string) *YAMLLoader {
	return &YAMLLoader{
		fs:   fsys,
		path: path,
	}
}

// Load reads the manifest from the configured path.
func (l *YAMLLoader) Load() (*Manifest, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom reads a manifest from a specific path.
func (l *YAMLLoader) LoadFrom(path string) (*Manifest, error) {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	m, err := l.parse(path, data)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// LoadFromReader reads a manifest from an io.Reader. Script paths in the
// result resolve against the working directory.
func (l *YAMLLoader) LoadFromReader(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	return l.parse("<reader>", data)
}

// parse decodes YAML data. The yaml decoder embeds positions in its
// messages rather than exposing them, so ParseError carries the text
// without Line/Column.
func (l *YAMLLoader) parse(source string, data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file is an empty manifest.
			return &m, nil
		}
		return nil, &ParseError{
			Path:    source,
			Message: err.Error(),
			Err:     err,
		}
	}

	return &m, nil
}
