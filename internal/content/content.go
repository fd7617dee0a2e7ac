package content

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy      = bluemonday.UGCPolicy()
	strict      = bluemonday.StrictPolicy()
	ErrNotImage = errors.New("payload is not an image")
)

// Sanitize removes unsafe HTML from the input string using the UGC policy.
// It is used for message text and rendered markdown.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// StripTags removes every HTML tag. Used for names and bios.
func StripTags(input string) string {
	return strict.Sanitize(input)
}

// Render converts markdown text into sanitized HTML.
func Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return Sanitize(buf.String()), nil
}

// Image is a decoded image payload.
type Image struct {
	Data     []byte
	MimeType string
}

// DataURL re-encodes the image in the canonical data URL form.
func (i Image) DataURL() string {
	return "data:" + i.MimeType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// DecodeImage accepts a data URL ("data:image/png;base64,...") or a bare
// base64 string and checks that the bytes are an image no larger than maxBytes.
// The declared mime type is ignored; the type is sniffed from the bytes.
func DecodeImage(payload string, maxBytes int) (Image, error) {
	payload = strings.TrimSpace(payload)
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		_, encoded, found := strings.Cut(rest, ",")
		if !found {
			return Image{}, fmt.Errorf("malformed data URL: %w", ErrNotImage)
		}
		payload = encoded
	}
	if payload == "" {
		return Image{}, ErrNotImage
	}

	if base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+3 {
		return Image{}, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return Image{}, fmt.Errorf("decode base64: %w", ErrNotImage)
		}
	}
	if len(data) > maxBytes {
		return Image{}, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}

	kind, err := filetype.Image(data)
	if err != nil || kind == filetype.Unknown {
		return Image{}, ErrNotImage
	}

	return Image{Data: data, MimeType: kind.MIME.Value}, nil
}
