package claim

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

const mimePDF = "application/pdf"

// ErrNotExtractable is returned by ExtractText for files whose text cannot
// be read (encrypted or image-only PDFs). Callers skip such files when
// building context.
type ErrNotExtractable struct {
	MimeType string
	Reason   string
}

func (e *ErrNotExtractable) Error() string {
	if e.Reason == "" {
		return "text extraction not supported for " + e.MimeType
	}
	return "text extraction failed for " + e.MimeType + ": " + e.Reason
}

// ExtractText decodes file bytes into text for generator context.
// PDFs go through the PDF text layer; otherwise UTF-8 first, text/* falls
// back to Latin-1, and other types are decoded lossily.
func ExtractText(data []byte, mimeType string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(mimeType), mimePDF) {
		return extractPDF(data, mimeType)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	if IsText(mimeType) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err == nil {
			return string(decoded), nil
		}
	}

	return strings.ToValidUTF8(string(data), "�"), nil
}

// extractPDF returns the plain text of every page. A PDF that cannot be
// opened (encrypted, corrupt) or has no text layer is not extractable.
func extractPDF(data []byte, mimeType string) (text string, err error) {
	// The parser panics on some malformed input
	defer func() {
		if r := recover(); r != nil {
			text, err = "", &ErrNotExtractable{MimeType: mimeType, Reason: fmt.Sprint(r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ErrNotExtractable{MimeType: mimeType, Reason: err.Error()}
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", &ErrNotExtractable{MimeType: mimeType, Reason: err.Error()}
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", &ErrNotExtractable{MimeType: mimeType, Reason: err.Error()}
	}

	text = strings.ToValidUTF8(string(raw), "�")
	if strings.TrimSpace(text) == "" {
		return "", &ErrNotExtractable{MimeType: mimeType, Reason: "no text layer"}
	}
	return text, nil
}
