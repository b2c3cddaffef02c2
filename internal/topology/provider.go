package topology

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/fleet"
)

var (
	ErrNotFound  = errors.New("topology: network not found")
	ErrInvalidID = errors.New("topology: invalid network id")
)

// Provider is a read-only source of network topologies.
type Provider interface {
	Load(ctx context.Context, id string) (*fleet.Network, error)
	List(ctx context.Context) ([]string, error)
}

var extensions = []string{".json", ".yaml", ".yml"}

// FileProvider serves networks stored as <id>.json or <id>.yaml documents in
// one directory.
type FileProvider struct {
	dir string
}

func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) Load(ctx context.Context, id string) (*fleet.Network, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, ext := range extensions {
		path := filepath.Join(p.dir, id+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		doc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		return doc.Network(id)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns the ids of every document in the directory, sorted.
func (p *FileProvider) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("list topologies: %w", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, known := range extensions {
			if ext != known {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ext)
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadFile reads a YAML or JSON topology document.
func LoadFile(path string) (*Document, error) {
	parser, err := config.FileParser(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load topology %s: %w", path, err)
	}
	var doc Document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode topology %s: %w", path, err)
	}
	return &doc, nil
}
