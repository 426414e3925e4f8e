package upload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Validation failures. Any of these means nothing may be written.
var (
	ErrMissingFile  = errors.New("upload: no file in the expected form field")
	ErrAmbiguous    = errors.New("upload: more than one file in the form field")
	ErrIncomplete   = errors.New("upload: transfer did not complete")
	ErrTooLarge     = errors.New("upload: payload exceeds the size limit")
	ErrTooManyLines = errors.New("upload: payload exceeds the line limit")
	ErrCorrupt      = errors.New("upload: payload could not be decoded")
)

// maxFormMemory is the multipart size kept in memory before spilling to
// temporary files.
const maxFormMemory = 4 << 20

// trimCutset is stripped from both ends of every line.
const trimCutset = " \t\n\r\x00\x0B"

// Limits bounds what a single upload may contain. Zero means unlimited.
type Limits struct {
	MaxBytes int64
	MaxLines int
}

// Payload is the validated, normalized content of one upload.
type Payload struct {
	FileName   string
	Size       int64
	Compressed bool
	Lines      []string
}

// FileFromRequest parses r as a multipart form and returns the single file
// uploaded under field. The file header always comes from this request's
// own body, never from a client-supplied path.
//
// The returned form must be released with RemoveAll by the caller.
func FileFromRequest(w http.ResponseWriter, r *http.Request, field string, limits Limits) (*multipart.FileHeader, *multipart.Form, error) {
	if limits.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBytes)
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), strings.Contains(err.Error(), "request body too large"):
			return nil, nil, fmt.Errorf("%w: %v", ErrTooLarge, err)
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			return nil, nil, fmt.Errorf("%w: %v", ErrMissingFile, err)
		default:
			return nil, nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
	}

	form := r.MultipartForm
	files := form.File[field]
	switch len(files) {
	case 0:
		form.RemoveAll()
		return nil, nil, ErrMissingFile
	case 1:
	default:
		form.RemoveAll()
		return nil, nil, fmt.Errorf("%w: %d files under %q", ErrAmbiguous, len(files), field)
	}

	return files[0], form, nil
}

// ReadPayload reads and normalizes an uploaded file. Gzip uploads
// (".gz" name or gzip content type) are decompressed first; the limits
// apply to the decompressed text.
func ReadPayload(fh *multipart.FileHeader, limits Limits) (*Payload, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening uploaded file: %v", ErrIncomplete, err)
	}
	defer src.Close()

	p := &Payload{
		FileName:   fh.Filename,
		Compressed: isGzip(fh),
	}

	var r io.Reader = src
	if p.Compressed {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		defer zr.Close()
		r = zr
	}

	counted := &countingReader{r: r}
	lines, err := SplitLines(counted, limits)
	if err != nil {
		switch {
		case errors.Is(err, ErrTooLarge), errors.Is(err, ErrTooManyLines):
			return nil, err
		case p.Compressed:
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
	}

	p.Size = counted.n
	p.Lines = lines
	return p, nil
}

// SplitLines splits r on "\n", keeping order and trimming surrounding
// whitespace from every line. Empty lines are kept; a trailing newline
// does not produce an extra empty line.
func SplitLines(r io.Reader, limits Limits) ([]string, error) {
	if limits.MaxBytes > 0 {
		// One extra byte tells "exactly at the limit" apart from "over it".
		r = io.LimitReader(r, limits.MaxBytes+1)
	}

	br := bufio.NewReader(r)
	var lines []string
	var total int64
	for {
		raw, err := br.ReadString('\n')
		total += int64(len(raw))
		if limits.MaxBytes > 0 && total > limits.MaxBytes {
			return nil, ErrTooLarge
		}
		if len(raw) > 0 {
			if limits.MaxLines > 0 && len(lines) >= limits.MaxLines {
				return nil, fmt.Errorf("%w: more than %d lines", ErrTooManyLines, limits.MaxLines)
			}
			lines = append(lines, strings.Trim(raw, trimCutset))
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
	}
}

func isGzip(fh *multipart.FileHeader) bool {
	if strings.EqualFold(filepath.Ext(fh.Filename), ".gz") {
		return true
	}
	switch strings.ToLower(fh.Header.Get("Content-Type")) {
	case "application/gzip", "application/x-gzip":
		return true
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
