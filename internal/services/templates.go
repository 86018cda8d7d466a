package services

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"

	"go.uber.org/zap"
)

const defaultTemplateSet = "default"

var (
	//go:embed templates
	embeddedTemplates embed.FS
)

// NoticeData feeds the owner-notice template.
type NoticeData struct {
	SiteName string
	SiteURL  string
	Name     string
	Text     template.HTML
	URL      string
}

// SendData feeds the reply-notify template.
type SendData struct {
	SiteName string
	SiteURL  string
	PName    string
	PText    template.HTML
	Name     string
	Text     template.HTML
	URL      string
}

// Templates is one parsed template set. It is loaded once at startup.
type Templates struct {
	Name   string
	notice *template.Template
	send   *template.Template
}

// LoadTemplates 读取 <dir>/<name>/{notice,send}.html；磁盘上不存在时回退到内置的 default 模板
func LoadTemplates(dir, name string, log *zap.SugaredLogger) (*Templates, error) {
	if name == "" {
		name = defaultTemplateSet
	}

	if dir != "" {
		if info, err := os.Stat(path.Join(dir, name)); err == nil && info.IsDir() {
			t, err := ParseTemplateSet(os.DirFS(dir), name)
			if err != nil {
				return nil, err
			}
			log.Infow("Mail templates loaded", "set", name, "dir", dir)
			return t, nil
		}
	}

	embedded, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		return nil, fmt.Errorf("open embedded templates: %w", err)
	}
	if _, err := fs.Stat(embedded, name); err != nil {
		log.Warnw("Template set not found, using built-in default", "set", name, "dir", dir)
		name = defaultTemplateSet
	}
	return ParseTemplateSet(embedded, name)
}

// ParseTemplateSet parses the notice and send templates of set name inside fsys.
func ParseTemplateSet(fsys fs.FS, name string) (*Templates, error) {
	notice, err := template.ParseFS(fsys, path.Join(name, "notice.html"))
	if err != nil {
		return nil, fmt.Errorf("parse notice template of %s: %w", name, err)
	}
	send, err := template.ParseFS(fsys, path.Join(name, "send.html"))
	if err != nil {
		return nil, fmt.Errorf("parse send template of %s: %w", name, err)
	}
	return &Templates{Name: name, notice: notice, send: send}, nil
}

func render(t *template.Template, data any) (string, error) {
	if t == nil {
		return "", errors.New("template not loaded")
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (t *Templates) RenderNotice(d NoticeData) (string, error) {
	return render(t.notice, d)
}

func (t *Templates) RenderSend(d SendData) (string, error) {
	return render(t.send, d)
}
