package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/homoluden/fedkf-ga/errkind"
	"github.com/homoluden/fedkf-ga/genetic"
	"github.com/homoluden/fedkf-ga/telemetry"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db")),
	}
}

func TestStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Init(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}
			t.Cleanup(func() { _ = CloseIfSupported(s) })

			if _, ok, err := s.GetRun(ctx, "missing"); err != nil || ok {
				t.Fatalf("GetRun(missing) = ok %v, err %v; want false, nil", ok, err)
			}

			started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			first := Run{ID: "b", Seed: 7, Config: "search:\n  seed: 7\n", StartedAt: started}
			second := Run{ID: "a", Seed: 8, StartedAt: started.Add(time.Minute)}
			for _, r := range []Run{second, first} {
				if err := s.SaveRun(ctx, r); err != nil {
					t.Fatalf("SaveRun(%s): %v", r.ID, err)
				}
			}

			first.BestFitness = 12.5
			first.BestGenes = []float64{1, -2, 3}
			first.FinishedAt = started.Add(30 * time.Second)
			if err := s.SaveRun(ctx, first); err != nil {
				t.Fatalf("SaveRun update: %v", err)
			}

			got, ok, err := s.GetRun(ctx, "b")
			if err != nil || !ok {
				t.Fatalf("GetRun(b) = ok %v, err %v", ok, err)
			}
			if got.Seed != 7 || got.Config != first.Config || got.BestFitness != 12.5 || len(got.BestGenes) != 3 {
				t.Errorf("loaded run = %+v", got)
			}
			if !got.Finished() || !got.StartedAt.Equal(started) {
				t.Errorf("loaded times: started %v finished %v", got.StartedAt, got.FinishedAt)
			}

			runs, err := s.ListRuns(ctx)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != 2 || runs[0].ID != "b" || runs[1].ID != "a" {
				t.Errorf("ListRuns order = %v, want [b a]", runIDs(runs))
			}
			if runs[1].Finished() {
				t.Error("unfinished run reported as finished")
			}
		})
	}
}

func TestStoreGenerationHistory(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Init(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}
			t.Cleanup(func() { _ = CloseIfSupported(s) })

			for _, gen := range []int{2, 0, 1} {
				stats := telemetry.GenerationStats{Generation: gen, BestFitness: float64(gen), Evaluations: int64(10 * gen)}
				if err := s.AppendGeneration(ctx, "run", stats); err != nil {
					t.Fatalf("AppendGeneration(%d): %v", gen, err)
				}
			}
			// A repeated generation replaces the stored one.
			if err := s.AppendGeneration(ctx, "run", telemetry.GenerationStats{Generation: 1, BestFitness: 5}); err != nil {
				t.Fatalf("AppendGeneration(repeat): %v", err)
			}

			hist, ok, err := s.GetHistory(ctx, "run")
			if err != nil || !ok {
				t.Fatalf("GetHistory = ok %v, err %v", ok, err)
			}
			want := []float64{0, 5, 2}
			if len(hist) != len(want) {
				t.Fatalf("history has %d rows, want %d", len(hist), len(want))
			}
			for i, w := range want {
				if hist[i].Generation != i || hist[i].BestFitness != w {
					t.Errorf("row %d = gen %d best %v, want gen %d best %v", i, hist[i].Generation, hist[i].BestFitness, i, w)
				}
			}
			if hist[2].Evaluations != 20 {
				t.Errorf("evaluations = %d, want 20", hist[2].Evaluations)
			}

			if _, ok, err := s.GetHistory(ctx, "other"); err != nil || ok {
				t.Errorf("GetHistory(other) = ok %v, err %v; want false, nil", ok, err)
			}
		})
	}
}

func TestRunRecorder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}

	rec, err := NewRunRecorder(ctx, s, Run{Seed: 3})
	if err != nil {
		t.Fatalf("NewRunRecorder: %v", err)
	}
	if rec.RunID() == "" {
		t.Fatal("recorder has no run id")
	}

	var sink telemetry.StatsSink = rec
	for gen := 0; gen < 3; gen++ {
		if err := sink.RecordGeneration(telemetry.GenerationStats{Generation: gen}); err != nil {
			t.Fatalf("RecordGeneration: %v", err)
		}
	}
	best := genetic.Candidate{Genes: []float64{0.5, 1.5}, Fitness: genetic.Evaluated(42)}
	if err := rec.Finish(best); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	run, ok, err := s.GetRun(ctx, rec.RunID())
	if err != nil || !ok {
		t.Fatalf("GetRun = ok %v, err %v", ok, err)
	}
	if run.Generations != 3 || run.BestFitness != 42 || !run.Finished() || run.Seed != 3 {
		t.Errorf("run = %+v", run)
	}
	if len(run.BestGenes) != 2 || run.BestGenes[1] != 1.5 {
		t.Errorf("best genes = %v", run.BestGenes)
	}
	hist, _, _ := s.GetHistory(ctx, rec.RunID())
	if len(hist) != 3 {
		t.Errorf("history rows = %d, want 3", len(hist))
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{kind: "", wantErr: false},
		{kind: "memory", wantErr: false},
		{kind: "sqlite", wantErr: false},
		{kind: "postgres", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, err := NewStore(tt.kind, filepath.Join(t.TempDir(), "x.db"))
			if tt.wantErr {
				if !errors.Is(err, errkind.Configuration) {
					t.Errorf("err = %v, want Configuration", err)
				}
				return
			}
			if err != nil || s == nil {
				t.Errorf("NewStore(%q) = %v, %v", tt.kind, s, err)
			}
		})
	}
}

func TestUninitializedStores(t *testing.T) {
	ctx := context.Background()
	if err := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db")).SaveRun(ctx, Run{ID: "x"}); err == nil {
		t.Error("sqlite SaveRun before Init succeeded")
	}
	if err := NewMemoryStore().SaveRun(ctx, Run{ID: "x"}); err == nil {
		t.Error("memory SaveRun before Init succeeded")
	}
	if err := NewSQLiteStore("").Init(ctx); err == nil {
		t.Error("sqlite Init without a path succeeded")
	}
}

func TestDecodeRunVersionMismatch(t *testing.T) {
	data, err := EncodeRun(Run{ID: "old", VersionedRecord: VersionedRecord{SchemaVersion: 0, CodecVersion: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("DecodeRun err = %v, want ErrVersionMismatch", err)
	}
}

func runIDs(runs []Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
