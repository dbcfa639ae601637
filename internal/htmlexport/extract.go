// Package htmlexport recovers meter photos from a spreadsheet saved as a web
// page, naming each copy after its SO and photo kind.
package htmlexport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"lks_builder/internal/images"
)

// Cell positions in the exported table, 0-based.
const (
	colSO  = 0  // A
	colURL = 17 // R
	colImg = 18 // S
)

// ErrNoTable is returned when the page has no <table>.
var ErrNoTable = errors.New("no table in html export")

// Result reports one extraction.
type Result struct {
	Rows    int      `json:"rows"`
	Saved   int      `json:"saved"`
	Missing []string `json:"missing,omitempty"` // img sources not found on disk
}

// PhotoSuffix is the file-name kind for a slot; card photos are tickets.
func PhotoSuffix(slot images.Slot) string {
	if slot == images.SlotCard {
		return "ticket"
	}
	return string(slot)
}

// FindSheet locates the data page inside an export directory: the first
// sheet*.htm under <dir>/<name>_files or dir itself, else a lone .htm file.
func FindSheet(dir string) (string, error) {
	var candidates []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), "_files") {
			m, _ := filepath.Glob(filepath.Join(dir, e.Name(), "sheet*.htm"))
			candidates = append(candidates, m...)
		}
	}
	if len(candidates) == 0 {
		m, _ := filepath.Glob(filepath.Join(dir, "sheet*.htm"))
		candidates = m
	}
	if len(candidates) == 0 {
		m, _ := filepath.Glob(filepath.Join(dir, "*.htm"))
		candidates = m
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no sheet*.htm in %s", dir)
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

// Extract scans the first table of sheetHTML. Column A carries the SO and
// fills down; a value only replaces the current SO when it is longer than 4
// characters and does not contain "SO". Column R holds the URL text that
// classifies the photo and column S the <img>. Matching images are copied to
// outDir as {SO}_{old|ticket|new}.png.
func Extract(sheetHTML, outDir string) (Result, error) {
	var res Result
	f, err := os.Open(sheetHTML)
	if err != nil {
		return res, err
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", filepath.Base(sheetHTML), err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return res, ErrNoTable
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, err
	}

	baseDir := filepath.Dir(sheetHTML)
	lastSO := ""
	var copyErr error
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		res.Rows++
		tds := tr.Find("td")
		if tds.Length() <= colImg {
			return true
		}
		if so := strings.TrimSpace(tds.Eq(colSO).Text()); len(so) > 4 && !strings.Contains(so, "SO") {
			lastSO = so
		}
		if lastSO == "" {
			return true
		}
		slot, ok := images.Classify(strings.TrimSpace(tds.Eq(colURL).Text()))
		if !ok {
			return true
		}
		src, ok := tds.Eq(colImg).Find("img").Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return true
		}
		from, found := locate(baseDir, src)
		if !found {
			res.Missing = append(res.Missing, src)
			return true
		}
		dst := filepath.Join(outDir, fmt.Sprintf("%s_%s.png", lastSO, PhotoSuffix(slot)))
		if err := copyFile(from, dst); err != nil {
			copyErr = err
			return false
		}
		res.Saved++
		return true
	})
	return res, copyErr
}

// locate resolves an img src against the page directory, falling back to
// the bare file name next to the page.
func locate(baseDir, src string) (string, bool) {
	src = strings.ReplaceAll(src, "\\", "/")
	for _, p := range []string{
		filepath.Join(baseDir, filepath.FromSlash(src)),
		filepath.Join(baseDir, path.Base(src)),
	} {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return "", false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
