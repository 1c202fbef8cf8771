package sqlite

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// maxLine bounds one JSONL record.
const maxLine = 16 << 20

// readRows decodes a JSONL file into rows, one per line. Integers stay exact.
// Blank and malformed lines are skipped. A missing file holds no rows.
func readRows(path string) ([]types.Row, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var rows []types.Row
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), maxLine)
	for scanner.Scan() {
		if row, ok := decodeRow(scanner.Bytes()); ok {
			rows = append(rows, row)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return rows, nil
}

func decodeRow(line []byte) (types.Row, bool) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var row types.Row
	if err := dec.Decode(&row); err != nil || row == nil {
		return nil, false
	}
	for col, v := range row {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			row[col] = i
		} else if f, err := n.Float64(); err == nil {
			row[col] = f
		}
	}
	return row, true
}

// writeRows replaces path with one JSON object per row, in order. Values are
// written in their storable form. The file is written to a temporary
// sibling, synced, and renamed over path so readers never see a partial file.
func writeRows(path string, rows []types.Row) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		rec := make(map[string]any, len(row))
		for col, v := range row {
			rec[col] = types.Storable(v)
		}
		// Encode terminates each record with a newline.
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
