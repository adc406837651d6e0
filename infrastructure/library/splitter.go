package library

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Splitter counts and extracts pages of a PDF.
type Splitter interface {
	PageCount(data []byte) (int, error)
	// Extract returns a standalone PDF holding exactly pages [start,end].
	Extract(data []byte, start, end int) ([]byte, error)
}

func init() {
	// Keep pdfcpu from creating a configuration directory on first use.
	model.ConfigPath = "disable"
}

// PDFCPUSplitter implements Splitter with pdfcpu.
type PDFCPUSplitter struct{}

// NewPDFCPUSplitter creates a splitter using relaxed validation.
func NewPDFCPUSplitter() *PDFCPUSplitter {
	return &PDFCPUSplitter{}
}

// config returns a fresh configuration; pdfcpu commands mutate it.
func (s *PDFCPUSplitter) config() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in data.
func (s *PDFCPUSplitter) PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), s.config())
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// Extract writes pages [start,end] of data to a new PDF.
func (s *PDFCPUSplitter) Extract(data []byte, start, end int) ([]byte, error) {
	var out bytes.Buffer
	selection := []string{fmt.Sprintf("%d-%d", start, end)}
	if err := api.Trim(bytes.NewReader(data), &out, selection, s.config()); err != nil {
		return nil, fmt.Errorf("extract pages %d-%d: %w", start, end, err)
	}
	return out.Bytes(), nil
}
