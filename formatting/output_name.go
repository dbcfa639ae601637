package formatting

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutputName derives the workbook name written for a raw export, e.g.
// "exports/Data_Dec12.xlsx" becomes "LKS (Data_Dec12).xlsm".
func OutputName(rawPath string) string {
	base := filepath.Base(strings.TrimSpace(rawPath))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "raw"
	}
	return fmt.Sprintf("LKS (%s).xlsm", stem)
}

// OutputPath joins OutputName onto dir, defaulting to the raw file's folder.
func OutputPath(dir, rawPath string) string {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Dir(rawPath)
	}
	return filepath.Join(dir, OutputName(rawPath))
}
