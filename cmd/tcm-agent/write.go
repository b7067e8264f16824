package main

import (
	"os"
	"path/filepath"

	"github.com/joelkehle/tcm-agent/internal/tcmagent"
)

// writeFileAtomic writes through a sibling temp file so readers never see a
// partial file.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func writeReports(markdown, mdPath, htmlPath string) error {
	if mdPath != "" {
		if err := writeFileAtomic(mdPath, []byte(markdown)); err != nil {
			return err
		}
	}
	if htmlPath == "" {
		return nil
	}
	page, err := tcmagent.RenderHTML(markdown)
	if err != nil {
		return err
	}
	return writeFileAtomic(htmlPath, []byte(page))
}
