package vfs

import (
	"fmt"

	yaml "gopkg.in/yaml.v2"

	"github.com/fusekit/fusekit/pkg/ops"
)

// Build bulk-loads a nested literal into the tree before mount:
//
//	map[string]interface{}  subdirectory, loaded recursively
//	string or []byte        file with that content
//	Node                    grafted as-is (any custom subtree)
//
// The root must be one of this package's directories. Build is meant
// for setup, not for a live mount.
func (f *FS) Build(tree map[string]interface{}) error {
	d, ok := f.root.(*Dir)
	if !ok {
		return fmt.Errorf("vfs: build needs a directory root, have %T", f.root)
	}
	return populate(ops.Background(), d, tree)
}

// BuildYAML is Build for a YAML manifest, so trees can live in config
// files: mappings become directories, scalars become file contents.
func (f *FS) BuildYAML(manifest []byte) error {
	var raw map[interface{}]interface{}
	if err := yaml.Unmarshal(manifest, &raw); err != nil {
		return fmt.Errorf("vfs: parse manifest: %w", err)
	}
	tree, err := normalizeYAML(raw)
	if err != nil {
		return err
	}
	return f.Build(tree)
}

func populate(ctx *ops.Context, d *Dir, tree map[string]interface{}) error {
	for name, v := range tree {
		var err error
		switch val := v.(type) {
		case map[string]interface{}:
			sub := NewDir(ctx, d.acct, 0755)
			if err = d.Put(ctx, name, sub); err == nil {
				err = populate(ctx, sub, val)
			}
		case string:
			err = d.Put(ctx, name, NewFile(ctx, d.acct, 0644).SetContent([]byte(val)))
		case []byte:
			err = d.Put(ctx, name, NewFile(ctx, d.acct, 0644).SetContent(val))
		case Node:
			err = d.Put(ctx, name, val)
		case nil:
			err = d.Put(ctx, name, NewFile(ctx, d.acct, 0644))
		default:
			return fmt.Errorf("vfs: build: unsupported value %T for %q", v, name)
		}
		if err != nil {
			return fmt.Errorf("vfs: build %q: %w", name, err)
		}
	}
	return nil
}

func normalizeYAML(raw map[interface{}]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		name, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("vfs: manifest key %v is not a string", k)
		}
		switch val := v.(type) {
		case map[interface{}]interface{}:
			sub, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[name] = sub
		case string:
			out[name] = val
		case nil:
			out[name] = nil
		default:
			return nil, fmt.Errorf("vfs: manifest value for %q is %T, want mapping or string", name, v)
		}
	}
	return out, nil
}
