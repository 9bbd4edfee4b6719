package filestorage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andrewyi/newsrelay/src/entity"
)

const timestampLayout = "20060102_150405"

type SimpleFileStorage struct {
	location string
	now      func() time.Time
}

func NewSimpleFileStorage(location string) *SimpleFileStorage {
	return &SimpleFileStorage{
		location: location,
		now:      time.Now,
	}
}

// FileName is <category path with "/" replaced by "_">_<YYYYMMDD_HHMMSS>.json.
func FileName(categoryPath string, at time.Time) string {
	safe := strings.Trim(strings.ReplaceAll(categoryPath, "/", "_"), "_")
	return safe + "_" + at.Format(timestampLayout) + ".json"
}

// Store keeps one file per batch; the timestamp in the name keeps repeated
// crawls of the same category apart.
func (s *SimpleFileStorage) Store(result *entity.CrawlResult) (string, error) {
	err := os.MkdirAll(s.location, os.ModePerm)
	if err != nil {
		if os.IsExist(err) {
			err = nil // ignore
		} else {
			return "", err
		}
	}

	fp := filepath.Join(s.location, FileName(result.CategoryPath, s.now()))

	f, err := os.Create(fp)
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return "", err
	}
	return fp, nil
}
