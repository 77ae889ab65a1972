package configcenter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultGroup = "default"

var ErrInvalidName = errors.New("invalid config name")

// pathResolver maps (group, key) onto <root>/<group>/<key> and back.
type pathResolver struct {
	root string
}

func newPathResolver(root string) pathResolver {
	return pathResolver{root: filepath.Clean(root)}
}

func (r pathResolver) groupDir(group string) (string, error) {
	group = normalizeGroup(group)
	if err := validateName("group", group); err != nil {
		return "", err
	}
	return filepath.Join(r.root, group), nil
}

func (r pathResolver) itemPath(key, group string) (string, error) {
	dir, err := r.groupDir(group)
	if err != nil {
		return "", err
	}
	if err := validateName("key", key); err != nil {
		return "", err
	}
	return filepath.Join(dir, key), nil
}

// resolve maps a path back to its item. Paths outside the root, at any depth
// other than two, or with reserved names do not resolve.
func (r pathResolver) resolve(path string) (group, key string, ok bool) {
	rel, err := filepath.Rel(r.root, filepath.Clean(path))
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	if len(parts) != 2 {
		return "", "", false
	}
	if validateName("group", parts[0]) != nil || validateName("key", parts[1]) != nil {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func normalizeGroup(group string) string {
	if strings.TrimSpace(group) == "" {
		return DefaultGroup
	}
	return group
}

// validateName rejects names that cannot be used verbatim as a single path
// element. A leading dot is reserved for in-flight temporary files.
func validateName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty %s", ErrInvalidName, kind)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %s %q starts with a dot", ErrInvalidName, kind, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %s %q contains a separator", ErrInvalidName, kind, name)
	}
	return nil
}
