package configcenter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"configcenter/internal/logging"
	"configcenter/internal/metrics"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// FileStore performs the synchronous reads and writes of config items. It
// keeps no state besides the root, so concurrent callers only race at the
// filesystem level, where publishing is an atomic rename.
type FileStore struct {
	resolver pathResolver
	codec    codec
	logger   *logging.Logger
	metrics  *metrics.Registry
}

func NewFileStore(root, encodingName string, logger *logging.Logger, registry *metrics.Registry) (*FileStore, error) {
	codec, err := newCodec(encodingName)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		resolver: newPathResolver(root),
		codec:    codec,
		logger:   logger,
		metrics:  registry,
	}, nil
}

func (s *FileStore) Root() string {
	return s.resolver.root
}

func (s *FileStore) Encoding() string {
	return s.codec.name
}

// Path returns the file that holds the item.
func (s *FileStore) Path(key, group string) (string, error) {
	return s.resolver.itemPath(key, group)
}

// Publish replaces the item's content, creating the group and root
// directories when needed. Readers observe either the previous or the new
// content, never a partial write.
func (s *FileStore) Publish(key, group, content string) error {
	group = normalizeGroup(group)
	path, err := s.resolver.itemPath(key, group)
	if err != nil {
		return err
	}
	payload, err := s.codec.encode(content)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	err = s.writeAtomic(dir, key, payload)
	if errors.Is(err, fs.ErrNotExist) {
		// A concurrent removal pruned the group directory.
		err = s.writeAtomic(dir, key, payload)
	}
	if err != nil {
		return fmt.Errorf("publish %s/%s: %w", group, key, err)
	}
	s.metrics.IncConfigPublished()
	s.logDebug("config published", map[string]string{"group": group, "key": key})
	return nil
}

func (s *FileStore) writeAtomic(dir, name string, payload []byte) error {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
	}()
	if _, err := tempFile.Write(payload); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempName, filePermissions); err != nil {
		return err
	}
	return os.Rename(tempName, filepath.Join(dir, name))
}

// Get returns the item's content. A missing item is reported as ok=false
// with a nil error.
func (s *FileStore) Get(key, group string) (string, bool, error) {
	path, err := s.resolver.itemPath(key, group)
	if err != nil {
		return "", false, err
	}
	return s.read(path)
}

func (s *FileStore) read(path string) (string, bool, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	content, err := s.codec.decode(payload)
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// Remove deletes the item and returns the content it held. Removing the
// last item of a group other than the default group also removes the group.
func (s *FileStore) Remove(key, group string) (string, bool, error) {
	group = normalizeGroup(group)
	path, err := s.resolver.itemPath(key, group)
	if err != nil {
		return "", false, err
	}
	content, ok, err := s.read(path)
	if err != nil || !ok {
		return "", false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("remove %s/%s: %w", group, key, err)
	}
	s.metrics.IncConfigRemoved()
	s.logDebug("config removed", map[string]string{"group": group, "key": key})
	if group != DefaultGroup {
		// Fails harmlessly while other items remain.
		_ = os.Remove(filepath.Dir(path))
	}
	return content, true, nil
}

// Keys lists the item keys of a group in lexical order.
func (s *FileStore) Keys(group string) ([]string, error) {
	dir, err := s.resolver.groupDir(group)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || validateName("key", entry.Name()) != nil {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Groups lists the group names under the root in lexical order.
func (s *FileStore) Groups() ([]string, error) {
	entries, err := os.ReadDir(s.resolver.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	groups := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || validateName("group", entry.Name()) != nil {
			continue
		}
		groups = append(groups, entry.Name())
	}
	sort.Strings(groups)
	return groups, nil
}

// Items returns every item of group, or of all groups when group is empty.
// Items that disappear while listing are skipped.
func (s *FileStore) Items(group string) ([]Item, error) {
	groups := []string{group}
	if group == "" {
		var err error
		if groups, err = s.Groups(); err != nil {
			return nil, err
		}
	}
	items := []Item{}
	for _, name := range groups {
		keys, err := s.Keys(name)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			content, ok, err := s.Get(key, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			items = append(items, Item{Group: name, Key: key, Content: content})
		}
	}
	return items, nil
}

func (s *FileStore) logDebug(message string, fields map[string]string) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Debug(message, fields)
}
