package file

import (
	"errors"
	"fmt"
	"hash/adler32"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/multierr"
)

var fileNameExtractor = regexp.MustCompile(`^(\d+)_(\d+)\.(bd|corrupted)$`)

// NewQueueByTopic opens the queue file for topic inside the workspace.
// A file that fails verification is set aside and replaced by an empty one.
func NewQueueByTopic(topic string, config ...Config) (*Queue, error) {
	cfg := configDefault(config...)

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, err
	}

	return (&queueLoader{cfg: cfg}).load(topic)
}

// FileName returns the queue file name used for topic.
func FileName(topic string) string {
	h := adler32.New()
	_, _ = h.Write([]byte(topic))
	return fmt.Sprintf("%d_0.bd", h.Sum32())
}

type queueLoader struct {
	cfg Config
}

func (q *queueLoader) open(path string) (*Queue, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, q.cfg.FileMode)
	if err != nil {
		return nil, err
	}

	queue, err := NewQueue(file)
	if err != nil {
		return nil, multierr.Append(err, file.Close())
	}
	return queue, nil
}

func (q *queueLoader) load(topic string) (*Queue, error) {
	fPath := filepath.Join(q.cfg.Workspace, FileName(topic))

	queue, err := q.open(fPath)
	if err == nil {
		return queue, nil
	}
	if !errors.Is(err, ErrInvalidFile) {
		return nil, err
	}

	if err := q.markCorrupted(fPath); err != nil {
		return nil, err
	}

	return q.open(fPath)
}

func (q *queueLoader) markCorrupted(path string) error {
	name, _, n, err := q.extractName(filepath.Base(path))
	if err != nil {
		return err
	}
	corruptedFilePath := filepath.Join(q.cfg.Workspace, q.buildName(name, "corrupted", n))

	return q.move(path, corruptedFilePath)
}

func (q *queueLoader) buildName(name, t string, n int) string {
	return fmt.Sprintf("%s_%d.%s", name, n, t)
}

func (q *queueLoader) extractName(fileName string) (name, t string, n int, err error) {
	fne := fileNameExtractor.FindStringSubmatch(fileName)
	if len(fne) != 4 {
		return "", "", 0, fmt.Errorf("bad name: '%s'", fileName)
	}

	n, err = strconv.Atoi(fne[2])
	if err != nil {
		return "", "", 0, err
	}

	return fne[1], fne[3], n, nil
}

// move renames prev to next, shifting an existing next one generation up
// first. Generations at or past MaxHistory are removed.
func (q *queueLoader) move(prev, next string) error {
	if exists(next) {
		name, t, n, err := q.extractName(filepath.Base(next))
		if err != nil {
			return err
		}

		err = q.move(next, filepath.Join(q.cfg.Workspace, q.buildName(name, t, n+1)))
		if err != nil {
			return err
		}
	}

	_, t, n, err := q.extractName(filepath.Base(prev))
	if err != nil {
		return err
	}

	if t == "corrupted" && n+1 >= q.cfg.MaxHistory {
		return os.Remove(prev)
	}

	return os.Rename(prev, next)
}

func exists(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
