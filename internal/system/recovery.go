package system

import (
	"os"
	"sort"
	"strconv"

	"github.com/adred-codev/streambroker/internal/ierror"
)

// numericSubdirs lists dir's immediate subdirectories whose names parse as
// base-10 integers, ascending — the traversal order spec §4.7 requires for
// streams, topics, and partitions.
func numericSubdirs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ierror.Wrap(ierror.IoError, "list "+dir, err)
	}
	var ids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// readNameFile reads a small metadata file holding a resource's display
// name (spec §6 "stream, topic, partition metadata stored as small files
// alongside their directories").
func readNameFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
