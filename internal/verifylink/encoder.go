// Package verifylink turns a fingerprint into the public verification URL and
// its scannable QR rendering. The artifact is derived, never stored: the same
// fingerprint and base URL always produce the same bytes.
package verifylink

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"net/url"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	"certledger/internal/certificate"
)

const (
	// VerifyPath is appended to the public base URL.
	VerifyPath = "verify"
	// QueryParam carries the fingerprint in the verification URL.
	QueryParam = "certificate_hash"

	DefaultBoxSize = 10
	DefaultBorder  = 4
)

// Artifact is a verification URL plus its PNG QR code.
type Artifact struct {
	Fingerprint certificate.Fingerprint
	URL         string
	PNG         []byte
}

// Base64 is the standard-encoding form returned to API clients.
func (a Artifact) Base64() string {
	return base64.StdEncoding.EncodeToString(a.PNG)
}

// Encoder is immutable after construction and safe for concurrent use.
type Encoder struct {
	level   qr.ErrorCorrectionLevel
	boxSize int
	border  int
}

type Option func(*Encoder)

func WithLevel(level qr.ErrorCorrectionLevel) Option {
	return func(e *Encoder) {
		e.level = level
	}
}

// WithBoxSize sets the pixel width of one QR module.
func WithBoxSize(px int) Option {
	return func(e *Encoder) {
		if px > 0 {
			e.boxSize = px
		}
	}
}

// WithBorder sets the quiet zone width in modules.
func WithBorder(modules int) Option {
	return func(e *Encoder) {
		if modules >= 0 {
			e.border = modules
		}
	}
}

func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		level:   qr.L,
		boxSize: DefaultBoxSize,
		border:  DefaultBorder,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseLevel maps L, M, Q or H to an error correction level.
func ParseLevel(s string) (qr.ErrorCorrectionLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "L":
		return qr.L, nil
	case "M":
		return qr.M, nil
	case "Q":
		return qr.Q, nil
	case "H":
		return qr.H, nil
	default:
		return qr.L, fmt.Errorf("unknown QR error correction level %q", s)
	}
}

// URL builds <base>/verify?certificate_hash=<fingerprint>. Any path on the
// base is kept; any query or fragment on it is dropped.
func URL(fp certificate.Fingerprint, baseURL string) (string, error) {
	if fp.IsZero() {
		return "", errors.New("fingerprint is empty")
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return "", fmt.Errorf("base URL %q must be absolute http(s)", baseURL)
	}
	u := base.JoinPath(VerifyPath)
	u.RawQuery = url.Values{QueryParam: []string{fp.String()}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

func (e *Encoder) Encode(fp certificate.Fingerprint, baseURL string) (Artifact, error) {
	link, err := URL(fp, baseURL)
	if err != nil {
		return Artifact{}, err
	}
	img, err := e.Render(link)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Fingerprint: fp, URL: link, PNG: img}, nil
}

// Render rasterizes content as a PNG QR code with a white quiet zone.
func (e *Encoder) Render(content string) ([]byte, error) {
	code, err := qr.Encode(content, e.level, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR: %w", err)
	}
	modules := code.Bounds().Dx()
	scaled, err := barcode.Scale(code, modules*e.boxSize, modules*e.boxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scale QR: %w", err)
	}

	offset := e.border * e.boxSize
	side := modules*e.boxSize + 2*offset
	canvas := image.NewGray(image.Rect(0, 0, side, side))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	target := image.Rect(offset, offset, offset+scaled.Bounds().Dx(), offset+scaled.Bounds().Dy())
	draw.Draw(canvas, target, scaled, scaled.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
