package render

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	errEmptyOutput = errors.New("rendered output is empty")
	errNoPages     = errors.New("rendered output has no pages")
)

var configDirOnce sync.Once

func disablePDFConfigDir() {
	configDirOnce.Do(api.DisableConfigDir)
}

// newPDFConfig returns a fresh configuration; pdfcpu mutates it during each call.
func newPDFConfig() *model.Configuration {
	return model.NewDefaultConfiguration()
}

func verifyPDF(data []byte) error {
	if len(data) == 0 {
		return errEmptyOutput
	}
	if err := api.Validate(bytes.NewReader(data), newPDFConfig()); err != nil {
		return fmt.Errorf("validate output: %w", err)
	}
	pages, err := pageCount(data)
	if err != nil {
		return err
	}
	if pages < 1 {
		return errNoPages
	}
	return nil
}

func pageCount(data []byte) (int, error) {
	pages, err := api.PageCount(bytes.NewReader(data), newPDFConfig())
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return pages, nil
}
