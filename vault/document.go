package vault

import (
	"path"
	"strings"
)

// DefaultAttachmentPattern places assets next to the document in "<name>__assets".
const DefaultAttachmentPattern = "${filename}__assets"

// Document identifies a source document by its vault path.
type Document struct {
	Path string
}

// Basename is the file name without its extension.
func (d Document) Basename() string {
	name := path.Base(d.Path)
	return strings.TrimSuffix(name, path.Ext(name))
}

// Parent returns the containing folder, "/" for documents at the vault root.
func (d Document) Parent() (string, error) {
	p := strings.Trim(path.Clean("/"+d.Path), "/")
	if p == "" || strings.HasSuffix(d.Path, "/") {
		return "", ErrInvalidDocumentLocation
	}
	dir := path.Dir(p)
	if dir == "." {
		return "/", nil
	}
	return dir, nil
}

// AssetFolderPath expands pattern for doc. A leading "/" anchors the result at the
// vault root; anything else is relative to the document's folder.
func AssetFolderPath(pattern string, doc Document) (string, error) {
	parent, err := doc.Parent()
	if err != nil {
		return "", err
	}
	if pattern == "" {
		pattern = DefaultAttachmentPattern
	}
	p := strings.ReplaceAll(pattern, "${filename}", doc.Basename())
	if strings.HasPrefix(p, "/") {
		return p[1:], nil
	}
	if parent == "/" {
		return p, nil
	}
	return parent + "/" + p, nil
}
