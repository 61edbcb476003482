package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/phpmago/analyzer/internal/diagnostic"
)

// A baseline records findings that are accepted for now. Entries are keyed
// by file, code, and message rather than position, so unrelated edits that
// shift lines do not resurrect suppressed findings.
type baselineEntry struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type baselineFile struct {
	Version  int             `json:"version"`
	Findings []baselineEntry `json:"findings"`
}

func baselineKey(file, code, message string) string {
	return file + "\x00" + code + "\x00" + message
}

// saveBaseline writes all current findings to path, with file paths made
// relative to root so the baseline can be committed.
func saveBaseline(path, root string, diags []diagnostic.Diagnostic) error {
	raw := []byte(`{}`)
	raw, err := sjson.SetBytes(raw, "version", 1)
	if err != nil {
		return err
	}
	if len(diags) == 0 {
		raw, err = sjson.SetRawBytes(raw, "findings", []byte(`[]`))
		if err != nil {
			return err
		}
	}
	for i, d := range diags {
		prefix := fmt.Sprintf("findings.%d.", i)
		if raw, err = sjson.SetBytes(raw, prefix+"file", relativeTo(root, d.File)); err != nil {
			return err
		}
		if raw, err = sjson.SetBytes(raw, prefix+"code", d.Code); err != nil {
			return err
		}
		if raw, err = sjson.SetBytes(raw, prefix+"message", d.Message); err != nil {
			return err
		}
	}
	return os.WriteFile(path, pretty.Pretty(raw), 0o644)
}

// filterBaseline drops findings recorded in the baseline at path. Each
// baseline entry absorbs one occurrence, so new duplicates still surface.
func filterBaseline(path, root string, diags []diagnostic.Diagnostic) ([]diagnostic.Diagnostic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bl baselineFile
	if err := json.Unmarshal(raw, &bl); err != nil {
		return nil, fmt.Errorf("malformed baseline %s: %w", path, err)
	}

	known := make(map[string]int, len(bl.Findings))
	for _, e := range bl.Findings {
		known[baselineKey(e.File, e.Code, e.Message)]++
	}

	kept := make([]diagnostic.Diagnostic, 0, len(diags))
	for _, d := range diags {
		key := baselineKey(relativeTo(root, d.File), d.Code, d.Message)
		if known[key] > 0 {
			known[key]--
			continue
		}
		kept = append(kept, d)
	}
	return kept, nil
}
