package bookaware

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

var stageSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func NewFileDumper(basePath string, failSaveFunc func(stage string, err error)) (PageDumper, error) {
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		err := os.MkdirAll(basePath, 0o755)
		if err != nil {
			return nil, err
		}
	}
	if failSaveFunc == nil {
		failSaveFunc = func(_ string, _ error) {
			// Nothing
		}
	}
	return &FileDumper{
		basePath:     basePath,
		failSaveFunc: failSaveFunc,
		now:          time.Now,
	}, nil
}

// FileDumper writes every dump to its own file named after the stage and time.
type FileDumper struct {
	basePath     string
	failSaveFunc func(stage string, err error)
	now          func() time.Time
}

func (d *FileDumper) Dump(stage, url string, body []byte) {
	stage = strings.Trim(stageSanitizer.ReplaceAllString(stage, "_"), "_")
	if stage == "" {
		stage = "page"
	}

	pattern := fmt.Sprintf("%s-%s-*.html", d.now().Format("20060102T150405"), stage)
	f, err := os.CreateTemp(d.basePath, pattern)
	if err != nil {
		d.failSaveFunc(stage, err)
		return
	}

	_, err = fmt.Fprintf(f, "<!-- %s -->\n", strings.ReplaceAll(url, "--", "%2D%2D"))
	if err == nil {
		_, err = f.Write(body)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		d.failSaveFunc(stage, err)
	}
}
