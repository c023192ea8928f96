package model

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"
)

type AttachmentSource string

const (
	AttachmentSourceURL    AttachmentSource = "url"
	AttachmentSourceInline AttachmentSource = "inline"
)

const defaultAttachmentName = "document.pdf"

// Attachment is either a URL reference or inline bytes. Build it with
// NewURLAttachment, NewInlineAttachment or NormalizeAttachment.
type Attachment struct {
	Source   AttachmentSource `json:"source"`
	URL      string           `json:"url,omitempty"`
	Data     []byte           `json:"data,omitempty"`
	FileName string           `json:"file_name"`
	MimeType string           `json:"mime_type,omitempty"`
}

func NewURLAttachment(rawURL, fileName, mimeType string) Attachment {
	if fileName == "" {
		fileName = fileNameFromURL(rawURL)
	}
	return Attachment{
		Source:   AttachmentSourceURL,
		URL:      rawURL,
		FileName: fileName,
		MimeType: mimeType,
	}
}

func NewInlineAttachment(data []byte, fileName, mimeType string) Attachment {
	if fileName == "" {
		fileName = defaultAttachmentName
	}
	return Attachment{
		Source:   AttachmentSourceInline,
		Data:     data,
		FileName: fileName,
		MimeType: mimeType,
	}
}

func (a Attachment) Validate() error {
	switch a.Source {
	case AttachmentSourceURL:
		u, err := url.Parse(a.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("attachment url %q is not absolute", a.URL)
		}
	case AttachmentSourceInline:
		if len(a.Data) == 0 {
			return fmt.Errorf("inline attachment is empty")
		}
	default:
		return fmt.Errorf("unknown attachment source %q", a.Source)
	}
	if a.FileName == "" {
		return fmt.Errorf("attachment file name is required")
	}
	return nil
}

var (
	urlAliases      = []string{"url", "fileUrl", "file_url", "link", "document"}
	inlineAliases   = []string{"base64", "fileBase64", "file_base64", "data"}
	fileNameAliases = []string{"fileName", "filename", "file_name", "name"}
	mimeTypeAliases = []string{"mimeType", "mimetype", "mime_type", "contentType"}
	captionAliases  = []string{"caption", "message", "text"}
)

// NormalizeAttachment turns the loosely shaped document payloads sent by the
// portal into an Attachment plus caption. It runs once, when a message is
// accepted; dispatch never looks at the raw shape again.
func NormalizeAttachment(raw map[string]interface{}) (Attachment, string, error) {
	fileName := firstString(raw, fileNameAliases)
	mimeType := firstString(raw, mimeTypeAliases)
	caption := firstString(raw, captionAliases)

	if encoded := firstString(raw, inlineAliases); encoded != "" {
		data, dataMime, err := decodeInline(encoded)
		if err != nil {
			return Attachment{}, "", err
		}
		if mimeType == "" {
			mimeType = dataMime
		}
		att := NewInlineAttachment(data, fileName, mimeType)
		return att, caption, att.Validate()
	}

	if ref := firstString(raw, urlAliases); ref != "" {
		att := NewURLAttachment(ref, fileName, mimeType)
		return att, caption, att.Validate()
	}

	return Attachment{}, "", fmt.Errorf("attachment needs one of %v or %v", urlAliases, inlineAliases)
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// decodeInline accepts plain base64 or a data: URI.
func decodeInline(encoded string) ([]byte, string, error) {
	var mimeType string
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.Index(encoded, ",")
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data uri")
		}
		meta := strings.TrimPrefix(encoded[:comma], "data:")
		mimeType = strings.TrimSuffix(meta, ";base64")
		encoded = encoded[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if alt, altErr := base64.RawStdEncoding.DecodeString(encoded); altErr == nil {
			return alt, mimeType, nil
		}
		return nil, "", fmt.Errorf("attachment is not valid base64: %w", err)
	}
	return data, mimeType, nil
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultAttachmentName
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return defaultAttachmentName
	}
	return name
}
