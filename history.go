package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// HistoryRow is one archived optimization run.
type HistoryRow struct {
	RunID       string `parquet:"run_id"`
	Problem     string `parquet:"problem,dict"`
	Strategy    string `parquet:"strategy,dict"`
	StartedAt   int64  `parquet:"started_at"` // unix millis
	ActiveSlots int32  `parquet:"active_slots"`
	MaxSlots    int32  `parquet:"max_slots"`
	Pieces      int32  `parquet:"pieces"`
	BestScore   int32  `parquet:"best_score"`
	MaxScore    int32  `parquet:"max_score"`
	Feasible    bool   `parquet:"feasible"`
	TimedOut    bool   `parquet:"timed_out"`
	Nodes       int64  `parquet:"nodes"`
	Generations int32  `parquet:"generations"`
	ElapsedMs   int64  `parquet:"elapsed_ms"`
	// Grid is the comma-joined instance ids per slot, empty slots blank.
	Grid      string  `parquet:"grid,zstd"`
	Rotations []int32 `parquet:"rotations"`
}

func historyRow(name string, prob *Problem, res *Result, startedAt time.Time) HistoryRow {
	rots := make([]int32, len(res.Rotations))
	for i, r := range res.Rotations {
		rots[i] = int32(r)
	}
	return HistoryRow{
		RunID:       res.RunID,
		Problem:     name,
		Strategy:    res.Strategy,
		StartedAt:   startedAt.UnixMilli(),
		ActiveSlots: int32(prob.ActiveSlots),
		MaxSlots:    int32(prob.MaxSlots),
		Pieces:      int32(len(prob.Pieces)),
		BestScore:   int32(res.BestScore),
		MaxScore:    int32(res.MaxScore),
		Feasible:    res.Feasible,
		TimedOut:    res.TimedOut,
		Nodes:       res.Nodes,
		Generations: int32(res.Generations),
		ElapsedMs:   res.ElapsedMs,
		Grid:        strings.Join(res.BestGrid, ","),
		Rotations:   rots,
	}
}

// WriteHistory archives one run as <dir>/run_<runID>.parquet. The file is
// written under a temporary name and renamed into place.
func WriteHistory(dir, name string, prob *Problem, res *Result, startedAt time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create history dir: %w", err)
	}
	outPath := filepath.Join(dir, "run_"+res.RunID+".parquet")
	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	rows := []HistoryRow{historyRow(name, prob, res, startedAt)}
	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "optimize_run_v1"),
	); err != nil {
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return outPath, nil
}

// ReadHistory loads every archived run under dir, oldest first.
func ReadHistory(dir string) ([]HistoryRow, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "run_*.parquet"))
	if err != nil {
		return nil, err
	}
	var out []HistoryRow
	for _, p := range paths {
		rows, err := readHistoryFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, rows...)
	}
	slices.SortStableFunc(out, func(a, b HistoryRow) int {
		switch {
		case a.StartedAt < b.StartedAt:
			return -1
		case a.StartedAt > b.StartedAt:
			return 1
		}
		return strings.Compare(a.RunID, b.RunID)
	})
	return out, nil
}

func readHistoryFile(path string) ([]HistoryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, err
	}
	reader := parquet.NewGenericReader[HistoryRow](pf)
	defer reader.Close()

	rows := make([]HistoryRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows[:n], nil
}
