package report

import (
	"context"
	"testing"
	"time"

	"github.com/openeq/eqconvert/internal/scene"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(&Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("opening report database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run := &Run{
		Zone:       "gfaydark",
		StartedAt:  time.Now(),
		Duration:   3 * time.Second,
		Materials:  12,
		Objects:    4,
		Meshes:     40,
		Vertices:   21088,
		Triangles:  23178,
		Placeables: 250,
		Lights:     16,
	}
	anomalies := []scene.Anomaly{
		{Kind: scene.AnomalyDanglingReference, Entity: "placement 3", Detail: "object reference 99 not resolvable"},
		{Kind: scene.AnomalyMissingTexture, Entity: "material 5", Detail: "texture \"lava.bmp\" not present"},
	}

	if err := db.RecordRun(ctx, run, anomalies); err != nil {
		t.Fatalf("recording run: %v", err)
	}

	n, err := db.RunCount(ctx)
	if err != nil {
		t.Fatalf("counting runs: %v", err)
	}
	if n != 1 {
		t.Errorf("run count: got %d, want 1", n)
	}

	var anomalyCount int
	row := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM anomalies`)
	if err := row.Scan(&anomalyCount); err != nil {
		t.Fatalf("counting anomalies: %v", err)
	}
	if anomalyCount != 2 {
		t.Errorf("anomaly rows: got %d, want 2", anomalyCount)
	}

	var zone string
	var vertices int
	row = db.db.QueryRowContext(ctx, `SELECT zone, vertices FROM runs WHERE id = 1`)
	if err := row.Scan(&zone, &vertices); err != nil {
		t.Fatalf("reading run row: %v", err)
	}
	if zone != "gfaydark" || vertices != 21088 {
		t.Errorf("run row: got zone %q vertices %d", zone, vertices)
	}
}

func TestRecordRunCleanConversion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run := &Run{Zone: "qeynos", StartedAt: time.Now()}
	if err := db.RecordRun(ctx, run, nil); err != nil {
		t.Fatalf("recording clean run: %v", err)
	}

	n, err := db.RunCount(ctx)
	if err != nil {
		t.Fatalf("counting runs: %v", err)
	}
	if n != 1 {
		t.Errorf("run count: got %d, want 1", n)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("nil options must be rejected")
	}
	if _, err := New(&Options{}); err == nil {
		t.Error("empty path must be rejected")
	}
}

func TestClosedDatabase(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
	if err := db.RecordRun(context.Background(), &Run{Zone: "x"}, nil); err == nil {
		t.Error("recording on a closed database must fail")
	}
	if err := db.Close(); err != nil {
		t.Errorf("double close should be a no-op, got %v", err)
	}
}
