package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const keysManifestFileName = "keys.yaml"

var keyNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,62}$`)

// KeyManifest lists PEM files imported into the key store at start-up.
type KeyManifest struct {
	Keys []ManifestKey `yaml:"keys"`
}

// ManifestKey is a single manifest entry.
type ManifestKey struct {
	// Name is the store name of the key (lowercase letters, digits, '_', '.', '-')
	Name string `yaml:"name"`
	// Path to the PEM file, relative paths resolve against the config directory
	Path string `yaml:"path"`
}

// LoadKeyManifest reads <configDirPath>/keys.yaml. A missing manifest is not
// an error and yields no keys.
func LoadKeyManifest(configDirPath string) ([]ManifestKey, error) {
	manifestPath := filepath.Join(configDirPath, keysManifestFileName)
	f, err := os.Open(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var manifest KeyManifest
	if err := yaml.NewDecoder(f).Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode %s: %w", keysManifestFileName, err)
	}

	if err := manifest.verify(); err != nil {
		return nil, err
	}

	keys := make([]ManifestKey, len(manifest.Keys))
	for i, k := range manifest.Keys {
		keys[i] = ManifestKey{Name: k.Name, Path: resolvePath(configDirPath, k.Path)}
	}
	return keys, nil
}

func (m KeyManifest) verify() error {
	seen := make(map[string]struct{}, len(m.Keys))
	for _, k := range m.Keys {
		if !keyNameRegex.MatchString(k.Name) {
			return fmt.Errorf("invalid key name '%s'", k.Name)
		}
		if k.Path == "" {
			return fmt.Errorf("missing path for key '%s'", k.Name)
		}
		if _, ok := seen[k.Name]; ok {
			return fmt.Errorf("duplicate key name '%s'", k.Name)
		}
		seen[k.Name] = struct{}{}
	}
	return nil
}
