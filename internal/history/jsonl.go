package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/citygrid/h3delay/internal/model"
	"github.com/citygrid/h3delay/internal/observability"
)

// JSONLFile appends one JSON object per line to Path, creating parent
// directories on demand (spec §4.6 / §6).
type JSONLFile struct {
	Path string
}

func (f JSONLFile) name() string { return "jsonl" }

func (f JSONLFile) Persist(ctx context.Context, rows []model.H3DailyRow) (err error) {
	start := time.Now()
	defer func() {
		observability.ObserveSinkWrite(f.name(), err, time.Since(start).Seconds())
	}()

	if f.Path == "" {
		return fmt.Errorf("history: jsonl sink has no path configured")
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("history: create parent dir: %w", err)
	}

	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", f.Path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("history: marshal row %s: %w", row.H3, err)
		}
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("history: write row: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("history: write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("history: flush: %w", err)
	}
	return nil
}
