// Package output writes finished posts to disk, either as Quarto documents
// with YAML frontmatter or as plain markdown.
package output

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xhad/scribe/internal/models"
)

const (
	FormatQMD = "qmd"
	FormatMD  = "md"

	untitled   = "Untitled"
	nameLayout = "200601021504"
	dateLayout = "2006-01-02"
)

type WriterConfig struct {
	Dir        string
	Format     string
	Author     string
	Categories []string
	Image      string

	// BaseURL is where the output directory is published. Empty means posts
	// have no public URL.
	BaseURL string
}

type Writer struct {
	config WriterConfig
	now    func() time.Time
}

type frontMatter struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author,omitempty"`
	Date        string   `yaml:"date"`
	Categories  []string `yaml:"categories,flow,omitempty"`
	Image       string   `yaml:"image,omitempty"`
}

func NewWithConfig(config WriterConfig) (*Writer, error) {
	if config.Dir == "" {
		config.Dir = "output"
	}
	switch config.Format {
	case "":
		config.Format = FormatQMD
	case FormatQMD, FormatMD:
	default:
		return nil, fmt.Errorf("unknown output format %q", config.Format)
	}
	return &Writer{config: config, now: time.Now}, nil
}

// Write renders post in the configured format and stores it under a
// timestamped name. It returns the path of the new file.
func (w *Writer) Write(post *models.Post) (string, error) {
	if post == nil || strings.TrimSpace(post.Body) == "" {
		return "", errors.New("output: post is empty")
	}

	now := w.now()
	var data []byte
	switch w.config.Format {
	case FormatMD:
		data = []byte(post.Body + "\n")
	default:
		rendered, err := w.renderQMD(post, now)
		if err != nil {
			return "", err
		}
		data = rendered
	}

	if err := os.MkdirAll(w.config.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return writeNew(w.config.Dir, now.Format(nameLayout), w.config.Format, data)
}

func (w *Writer) renderQMD(post *models.Post, now time.Time) ([]byte, error) {
	title, body := models.SplitTitle(post.Body)
	if title == "" {
		title = untitled
	}

	meta := frontMatter{
		Title:       title,
		Description: post.Description,
		Author:      w.config.Author,
		Date:        now.Format(dateLayout),
		Categories:  w.config.Categories,
		Image:       w.config.Image,
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("output: encode frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.WriteString(strings.TrimSpace(body))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// PostURL returns the published URL of the post written to path, which
// renders to <name>.html under BaseURL.
func (w *Writer) PostURL(path string) string {
	if w.config.BaseURL == "" || path == "" {
		return ""
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimRight(w.config.BaseURL, "/") + "/" + name + ".html"
}

// writeNew creates dir/name.ext, adding -1, -2, ... to name until it finds a
// path that does not exist yet.
func writeNew(dir, name, ext string, data []byte) (string, error) {
	for i := 0; i < 1000; i++ {
		base := name
		if i > 0 {
			base = fmt.Sprintf("%s-%d", name, i)
		}
		path := filepath.Join(dir, base+"."+ext)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to close %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}
