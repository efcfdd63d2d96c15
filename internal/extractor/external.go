package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ToolsAvailable reports which external helpers are on PATH.
func ToolsAvailable() (pdftotext, ocr bool) {
	_, e1 := exec.LookPath("pdftotext")
	_, e2 := exec.LookPath("pdftoppm")
	_, e3 := exec.LookPath("tesseract")
	return e1 == nil, e2 == nil && e3 == nil
}

// pageCount asks pdfinfo for the page count; 0 when unknown.
func pageCount(ctx context.Context, path string) int {
	out, err := exec.CommandContext(ctx, "pdfinfo", path).Output()
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(out), "\n") {
		if v, ok := strings.CutPrefix(line, "Pages:"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// extractWithPdftotext runs poppler's pdftotext page by page in layout
// mode, falling back to the whole document in one call.
func extractWithPdftotext(ctx context.Context, path string) ([]page, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not available: %w", err)
	}

	var texts []string
	for i := 1; i <= pageCount(ctx, path); i++ {
		n := strconv.Itoa(i)
		out, err := exec.CommandContext(ctx, "pdftotext", "-layout", "-f", n, "-l", n, path, "-").Output()
		if err != nil {
			continue
		}
		texts = append(texts, string(out))
	}
	if len(texts) == 0 {
		out, err := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-").Output()
		if err != nil {
			return nil, fmt.Errorf("pdftotext: %w", err)
		}
		// pdftotext separates pages with form feeds.
		texts = strings.Split(string(out), "\f")
	}
	return textPages(texts), nil
}

// extractWithOCR rasterizes pages with pdftoppm at 300 DPI and reads
// them with tesseract.
func extractWithOCR(ctx context.Context, path string) ([]page, error) {
	if _, ocr := ToolsAvailable(); !ocr {
		return nil, fmt.Errorf("ocr needs pdftoppm and tesseract on PATH")
	}

	dir, err := os.MkdirTemp("", "ocr-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	if out, err := exec.CommandContext(ctx, "pdftoppm", "-r", "300", "-png", path, prefix).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w (%s)", err, strings.TrimSpace(string(out)))
	}

	images, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return nil, err
	}
	sort.Strings(images)
	if len(images) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no page images")
	}

	var texts []string
	for _, img := range images {
		base := strings.TrimSuffix(img, ".png") + "-ocr"
		// PSM 4: a single column of variable-size text.
		if err := exec.CommandContext(ctx, "tesseract", img, base, "-l", "eng", "--psm", "4").Run(); err != nil {
			continue
		}
		data, err := os.ReadFile(base + ".txt")
		if err != nil {
			continue
		}
		texts = append(texts, string(data))
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("tesseract produced no text from %d pages", len(images))
	}
	return textPages(texts), nil
}
