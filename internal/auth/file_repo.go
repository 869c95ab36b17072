package auth

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FileRepository reads a newline-delimited list of integer user ids.
// Blank lines are skipped; anything else that is not an integer is an error.
type FileRepository struct {
	path string
}

func NewFileRepository(path string) (*FileRepository, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "stat authorised users file")
	}
	return &FileRepository{path: path}, nil
}

func (r *FileRepository) LoadAll() ([]int64, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var ids []int64
	s := bufio.NewScanner(f)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" {
			continue
		}
		id, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", r.path, line)
		}
		ids = append(ids, id)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return ids, nil
}
