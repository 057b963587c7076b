package mathtext

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-latex/latex/drawtex/drawimg"
	"github.com/go-latex/latex/mtex"
)

var ErrEmptyExpression = errors.New("empty math expression")

// Renderer turns a TeX math expression into PNG bytes.
type Renderer interface {
	Render(expr string) ([]byte, error)
}

// PNGRenderer draws expressions with go-latex's mathtext engine.
type PNGRenderer struct {
	FontSize float64
	DPI      float64
}

func NewPNGRenderer() *PNGRenderer {
	return &PNGRenderer{FontSize: 14, DPI: 200}
}

func (r *PNGRenderer) Render(expr string) (png []byte, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyExpression
	}
	// the engine has no line breaks
	expr = strings.Join(strings.Fields(expr), " ")

	size, dpi := r.FontSize, r.DPI
	if size <= 0 {
		size = 14
	}
	if dpi <= 0 {
		dpi = 200
	}

	// mtex panics on some unsupported macros instead of returning an error.
	defer func() {
		if rec := recover(); rec != nil {
			png = nil
			err = fmt.Errorf("render %q: %v", expr, rec)
		}
	}()

	var buf bytes.Buffer
	if err := mtex.Render(drawimg.NewRenderer(&buf), "$"+expr+"$", size, dpi, nil); err != nil {
		return nil, fmt.Errorf("render %q: %w", expr, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("render %q: empty image", expr)
	}
	return buf.Bytes(), nil
}
