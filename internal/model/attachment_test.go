package model

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAttachmentAliases(t *testing.T) {
	pdf := []byte("%PDF-1.7 test")
	encoded := base64.StdEncoding.EncodeToString(pdf)

	tests := []struct {
		name     string
		raw      map[string]interface{}
		source   AttachmentSource
		fileName string
		caption  string
	}{
		{
			name:     "url with fileName",
			raw:      map[string]interface{}{"url": "https://cdn.example.com/a/nf.pdf", "fileName": "nota.pdf", "caption": "Nota"},
			source:   AttachmentSourceURL,
			fileName: "nota.pdf",
			caption:  "Nota",
		},
		{
			name:     "fileUrl derives name from path",
			raw:      map[string]interface{}{"fileUrl": "https://cdn.example.com/a/nf-123.pdf"},
			source:   AttachmentSourceURL,
			fileName: "nf-123.pdf",
		},
		{
			name:     "document alias",
			raw:      map[string]interface{}{"document": "https://cdn.example.com/x.pdf", "message": "segue"},
			source:   AttachmentSourceURL,
			fileName: "x.pdf",
			caption:  "segue",
		},
		{
			name:     "plain base64",
			raw:      map[string]interface{}{"base64": encoded, "filename": "inline.pdf"},
			source:   AttachmentSourceInline,
			fileName: "inline.pdf",
		},
		{
			name:     "data uri",
			raw:      map[string]interface{}{"file_base64": "data:application/pdf;base64," + encoded},
			source:   AttachmentSourceInline,
			fileName: defaultAttachmentName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, caption, err := NormalizeAttachment(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.source, att.Source)
			assert.Equal(t, tt.fileName, att.FileName)
			assert.Equal(t, tt.caption, caption)
			if tt.source == AttachmentSourceInline {
				assert.Equal(t, pdf, att.Data)
			}
		})
	}
}

func TestNormalizeAttachmentDataURIMimeType(t *testing.T) {
	att, _, err := NormalizeAttachment(map[string]interface{}{
		"data": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("x")),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", att.MimeType)
}

func TestNormalizeAttachmentRejectsBadInput(t *testing.T) {
	_, _, err := NormalizeAttachment(map[string]interface{}{"caption": "only text"})
	assert.Error(t, err)

	_, _, err = NormalizeAttachment(map[string]interface{}{"url": "not a url"})
	assert.Error(t, err)

	_, _, err = NormalizeAttachment(map[string]interface{}{"base64": "!!!"})
	assert.Error(t, err)
}
