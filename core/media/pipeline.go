package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// PipelineOptions bound what the compressor produces.
type PipelineOptions struct {
	MaxUploadSize int64
	MaxImageEdge  int
	ThumbEdge     int
	JPEGQuality   int
}

// Processed is the pipeline output ready for persistence.
type Processed struct {
	Data     []byte
	Thumb    []byte // nil for non-image media
	MimeType string
	Size     int64
	Checksum string
	Width    int
	Height   int
}

var (
	ErrTooLarge    = errors.New("media exceeds maximum upload size")
	ErrUnsupported = errors.New("unsupported media type")
)

// Process runs the capture pipeline: sniff the type, re-encode and bound
// images, thumbnail them, and checksum the final bytes. Non-image media pass
// through untouched apart from the size cap.
func Process(raw []byte, opts PipelineOptions) (Processed, error) {
	if opts.MaxUploadSize > 0 && int64(len(raw)) > opts.MaxUploadSize {
		return Processed{}, ErrTooLarge
	}

	mime := http.DetectContentType(raw)
	if !strings.HasPrefix(mime, "image/") {
		return Processed{
			Data:     raw,
			MimeType: mime,
			Size:     int64(len(raw)),
			Checksum: checksum(raw),
		}, nil
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return Processed{}, errors.Wrap(ErrUnsupported, err.Error())
	}

	// bound the longest edge; Fit no-ops when already within bounds
	if opts.MaxImageEdge > 0 {
		img = imaging.Fit(img, opts.MaxImageEdge, opts.MaxImageEdge, imaging.Lanczos)
	}

	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Processed{}, errors.Wrap(err, "encoding jpeg")
	}
	data := buf.Bytes()

	thumbEdge := opts.ThumbEdge
	if thumbEdge <= 0 {
		thumbEdge = 200
	}
	thumbImg := imaging.Fit(img, thumbEdge, thumbEdge, imaging.Lanczos)
	var tbuf bytes.Buffer
	if err := imaging.Encode(&tbuf, thumbImg, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Processed{}, errors.Wrap(err, "encoding thumbnail")
	}

	bounds := img.Bounds()
	return Processed{
		Data:     data,
		Thumb:    tbuf.Bytes(),
		MimeType: "image/jpeg",
		Size:     int64(len(data)),
		Checksum: checksum(data),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
