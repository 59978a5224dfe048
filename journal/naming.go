package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	logSuffix     = ".log"
	deletedSuffix = ".log.deleted"
)

// segmentFileName returns the active on-disk name for segment id under
// name prefix in dir: "<name>-<id>.log".
func segmentFileName(dir, name string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, id, logSuffix))
}

// deletedFileName returns the marked-for-deletion name for segment id.
func deletedFileName(dir, name string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, id, deletedSuffix))
}

// isSegmentFile reports whether fileName is an active segment file
// belonging to the given name prefix.
func isSegmentFile(fileName, name string) bool {
	return strings.HasPrefix(fileName, name+"-") && strings.HasSuffix(fileName, logSuffix) &&
		!strings.HasSuffix(fileName, deletedSuffix)
}

// isDeletedSegmentFile reports whether fileName is a segment marked
// for deletion belonging to the given name prefix.
func isDeletedSegmentFile(fileName, name string) bool {
	return strings.HasPrefix(fileName, name+"-") && strings.HasSuffix(fileName, deletedSuffix)
}

// parseSegmentID extracts the numeric id out of an active segment's
// file name, given the name prefix.
func parseSegmentID(fileName, name string) (uint64, error) {
	trimmed := strings.TrimPrefix(fileName, name+"-")
	trimmed = strings.TrimSuffix(trimmed, logSuffix)
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "not a valid segment file name: %s", fileName)
	}
	return id, nil
}

func parseDeletedSegmentID(fileName, name string) (uint64, error) {
	trimmed := strings.TrimPrefix(fileName, name+"-")
	trimmed = strings.TrimSuffix(trimmed, deletedSuffix)
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "not a valid deleted segment file name: %s", fileName)
	}
	return id, nil
}

// listSegmentIDs returns the ids of active (".log") segment files in
// dir belonging to name, sorted ascending.
func listSegmentIDs(dir, name string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "listing segment directory")
	}

	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		if !isSegmentFile(fn, name) {
			continue
		}
		id, err := parseSegmentID(fn, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// listDeletedSegmentFiles returns the full paths of every ".log.deleted"
// file in dir belonging to name.
func listDeletedSegmentFiles(dir, name string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "listing segment directory")
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		if isDeletedSegmentFile(fn, name) {
			files = append(files, filepath.Join(dir, fn))
		}
	}
	return files, nil
}
