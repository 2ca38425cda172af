// Package document resolves document references to extracted text.
//
// A reference is a file path; the extension decides how text is pulled out
// of it. Format interpretation ends here: stages downstream only ever see
// plain text.
package document

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/spf13/afero"

	"github.com/draftforge-labs/resumepipeline/pipecore/capability"
	"github.com/draftforge-labs/resumepipeline/pipecore/logging"
	"github.com/draftforge-labs/resumepipeline/pipecore/observability"
)

// FileSource implements capability.DocumentSource over a filesystem.
// Relative references resolve under Root; absolute references pass through.
type FileSource struct {
	fs     afero.Fs
	root   string
	logger logging.Logger
}

// NewFileSource creates a FileSource on the operating system filesystem.
func NewFileSource(root string, logger logging.Logger) *FileSource {
	return NewFileSourceFS(afero.NewOsFs(), root, logger)
}

// NewFileSourceFS injects the filesystem. Tests use an in-memory one.
func NewFileSourceFS(fs afero.Fs, root string, logger logging.Logger) *FileSource {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileSource{fs: fs, root: root, logger: logger}
}

// Fetch resolves ref and returns its extracted text. A missing file is a
// *capability.NotFoundError; an unreadable or corrupt one is a
// *capability.AccessError.
func (s *FileSource) Fetch(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := ref
	if !filepath.IsAbs(ref) && s.root != "" {
		path = filepath.Join(s.root, ref)
	}
	format := formatOf(path)

	if _, err := s.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			observability.RecordDocumentFetch(format, "not_found")
			return "", capability.NewNotFoundError(ref)
		}
		observability.RecordDocumentFetch(format, "error")
		return "", capability.NewAccessError(ref, err)
	}

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		observability.RecordDocumentFetch(format, "error")
		return "", capability.NewAccessError(ref, err)
	}

	text, err := extractText(format, data)
	if err != nil {
		observability.RecordDocumentFetch(format, "error")
		return "", capability.NewAccessError(ref, err)
	}

	observability.RecordDocumentFetch(format, "success")
	s.logger.Debug("document_fetched", "ref", ref, "format", format, "bytes", len(data))
	return text, nil
}

// formatOf classifies a path by extension. Anything unrecognized is treated
// as plain text.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	default:
		return "text"
	}
}

func extractText(format string, data []byte) (string, error) {
	switch format {
	case "pdf":
		return extractPDFText(data)
	case "docx":
		return extractDocxText(data)
	default:
		return string(data), nil
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		text.WriteString(content)
	}
	return text.String(), nil
}

func extractDocxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer doc.Close()

	return docxPlainText(doc.Editable().GetContent()), nil
}

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// docxPlainText strips WordprocessingML markup from document.xml content,
// keeping a line break per paragraph.
func docxPlainText(content string) string {
	content = strings.ReplaceAll(content, "</w:p>", "\n")

	var b strings.Builder
	b.Grow(len(content))
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return xmlEntities.Replace(strings.TrimSpace(b.String()))
}
