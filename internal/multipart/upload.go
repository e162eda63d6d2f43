package multipart

import (
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrMissingTitle = errors.New("upload has no title")

// Form field names of the post upload form.
const (
	FieldTitle   = "title"
	FieldContent = "content"
	FieldImage   = "image"
)

type UploadResult struct {
	Title      string
	Content    string
	ImageBytes []byte
	// ImageName is the collision-free name the image is stored under;
	// empty when the form carried no file.
	ImageName string
	// OriginalName is the filename the client submitted.
	OriginalName string
}

// BuildUpload collects the post form fields from decoded parts. Unknown
// field names are ignored.
func BuildUpload(parts []Part) (*UploadResult, error) {
	res := &UploadResult{}
	for _, p := range parts {
		switch p.FieldName {
		case FieldTitle:
			res.Title = p.TextValue
		case FieldContent:
			res.Content = p.TextValue
		case FieldImage:
			if !p.IsBinary || !p.HasFileName || len(p.BinaryValue) == 0 {
				continue
			}
			res.OriginalName = p.FileName
			res.ImageBytes = p.BinaryValue
			res.ImageName = UniqueName(p.FileName)
		}
	}
	if strings.TrimSpace(res.Title) == "" {
		return nil, ErrMissingTitle
	}
	return res, nil
}

// UniqueName turns "cat.png" into "cat-<uuid>.png". Any client-side
// directory prefix is dropped first.
func UniqueName(original string) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))
	if base == "." || base == "/" {
		base = ""
	}
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "upload"
	}
	return stem + "-" + uuid.NewString() + ext
}
