package overlay

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrNoArchive is returned by Archive.Latest when nothing has been written.
var ErrNoArchive = errors.New("no archived catalog")

const (
	archivePrefix = "catalog_"
	archiveSuffix = ".tle"
)

// Archive keeps the raw text of recent catalog fetches on disk so a restart
// can serve overlays before the first network refresh completes.
type Archive struct {
	dir  string
	keep int
}

// NewArchive stores files under dir and keeps the newest keep of them.
func NewArchive(dir string, keep int) *Archive {
	if keep <= 0 {
		keep = 5
	}
	return &Archive{dir: dir, keep: keep}
}

// Write saves data stamped with fetchedAt and prunes older files.
func (a *Archive) Write(data []byte, fetchedAt time.Time) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	name := archivePrefix + strconv.FormatInt(fetchedAt.Unix(), 10) + archiveSuffix
	if err := os.WriteFile(filepath.Join(a.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing archive file: %w", err)
	}
	return a.prune()
}

// Latest returns the newest archived text and its fetch time.
func (a *Archive) Latest() ([]byte, time.Time, error) {
	files, err := a.list()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, ErrNoArchive
	}
	newest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(a.dir, newest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading archive file: %w", err)
	}
	return data, newest.fetchedAt, nil
}

type archiveFile struct {
	name      string
	fetchedAt time.Time
}

// list returns archive files oldest first. Unrelated files are ignored.
func (a *Archive) list() ([]archiveFile, error) {
	dirEntries, err := os.ReadDir(a.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archive dir: %w", err)
	}

	var files []archiveFile
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		unix, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: name, fetchedAt: time.Unix(unix, 0).UTC()})
	}
	slices.SortFunc(files, func(x, y archiveFile) int {
		return cmp.Compare(x.fetchedAt.Unix(), y.fetchedAt.Unix())
	})
	return files, nil
}

func (a *Archive) prune() error {
	files, err := a.list()
	if err != nil || len(files) <= a.keep {
		return err
	}
	for _, f := range files[:len(files)-a.keep] {
		if err := os.Remove(filepath.Join(a.dir, f.name)); err != nil {
			return fmt.Errorf("pruning archive file %s: %w", f.name, err)
		}
	}
	return nil
}
