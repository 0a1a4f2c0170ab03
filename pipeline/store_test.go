package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-order-export/models"
	"github.com/google/go-cmp/cmp"
)

func order(id, date string, typ models.OrderType) *models.Order {
	return &models.Order{OrderID: id, Date: date, Counterparty: "user" + id, Status: "Paid", Total: "1,00 €", Type: typ}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "orders.csv"), "")

	known, records := store.Load()
	if known.Len() != 0 || len(records) != 0 {
		t.Fatalf("missing file should load empty, got %d known, %d records", known.Len(), len(records))
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	want := []*models.Order{
		order("3", "05.03.25", models.Purchase),
		order("2", "04.03.25 10:00", models.Sale),
		{OrderID: "1", Date: "", Counterparty: `quoted "name", with comma`, Status: "", Total: "", Type: models.Sale},
	}

	first := NewStore(path, "")
	first.Load()
	if added := first.Append(want); added != 3 {
		t.Fatalf("added=%d, want 3", added)
	}
	if err := first.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	second := NewStore(path, "")
	known, got := second.Load()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	for _, o := range want {
		if !known.Has(o.OrderID) {
			t.Fatalf("id %s missing from known set", o.OrderID)
		}
	}
}

func TestStoreLoadHandlesBOMAndSkipsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	writeFile(t, path, "\uFEFFOrder ID,Date,User,Status,Total,Type\n"+
		"10,01.01.25,a,Paid,1,Purchase\n"+
		",02.01.25,b,Paid,1,Purchase\n"+
		"10,03.01.25,c,Paid,1,Sale\n"+
		"11,04.01.25,d,Paid,1,Sale\n")

	store := NewStore(path, "")
	known, records := store.Load()

	if len(records) != 2 || known.Len() != 2 {
		t.Fatalf("records=%d known=%d, want 2 and 2", len(records), known.Len())
	}
	if records[0].Counterparty != "a" {
		t.Fatalf("first occurrence must win, got %q", records[0].Counterparty)
	}
}

func TestStoreLoadMalformedStartsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no id column", content: "Date,User\n01.01.25,a\n"},
		{name: "broken quoting", content: "Order ID,Date\n\"1,01.01.25\n2,\"x\"y\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "orders.csv")
			writeFile(t, path, tt.content)

			store := NewStore(path, "")
			known, records := store.Load()
			if known.Len() != 0 || len(records) != 0 {
				t.Fatalf("malformed file should load empty")
			}

			store.Append([]*models.Order{order("1", "01.01.25", models.Sale)})
			if err := store.Persist(); err != nil {
				t.Fatalf("persist: %v", err)
			}

			backup, err := os.ReadFile(path + ".bak")
			if err != nil {
				t.Fatalf("backup missing: %v", err)
			}
			if string(backup) != tt.content {
				t.Fatalf("backup content changed")
			}
		})
	}
}

func TestStorePersistWithoutNewRecordsLeavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	content := "Order ID,Date,User,Status,Total,Type\n1,01.01.25,a,Paid,1,Sale\n"
	writeFile(t, path, content)
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	store := NewStore(path, "")
	store.Load()
	if added := store.Append([]*models.Order{order("1", "09.09.25", models.Sale)}); added != 0 {
		t.Fatalf("known id appended")
	}
	if err := store.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		t.Fatalf("file rewritten without new records")
	}
	data, _ := os.ReadFile(path)
	if string(data) != content {
		t.Fatalf("content changed")
	}
}

func TestStoreAppendValidationAndDedup(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "orders.csv"), "")
	store.Load()

	added := store.Append([]*models.Order{
		order("1", "01.01.25", models.Purchase),
		order("1", "02.01.25", models.Sale),
		{OrderID: "  ", Type: models.Sale},
		{OrderID: "2", Type: "Refund"},
		{OrderID: "3", Date: " 03.01.25   12:00 ", Counterparty: "  spaced\tname ", Type: models.Sale},
		nil,
	})
	if added != 2 {
		t.Fatalf("added=%d, want 2", added)
	}

	records := store.Records()
	if records[0].Type != models.Purchase {
		t.Fatalf("first write must win")
	}
	if records[1].Date != "03.01.25 12:00" || records[1].Counterparty != "spaced name" {
		t.Fatalf("fields not normalised: %+v", records[1])
	}

	metrics := store.GetMetrics()
	if metrics["merged_orders"].(int64) != 2 {
		t.Fatalf("merged=%v, want 2", metrics["merged_orders"])
	}
	validation := metrics["validation_errors"].(map[string]int)
	if validation["duplicate_id"] != 1 || validation["invalid_record"] != 3 {
		t.Fatalf("validation=%v", validation)
	}
}

func TestStoreIdempotentRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	batch := []*models.Order{order("5", "05.01.25", models.Sale), order("4", "04.01.25", models.Sale)}

	for run := 0; run < 2; run++ {
		store := NewStore(path, "")
		store.Load()
		store.Append(batch)
		if err := store.Persist(); err != nil {
			t.Fatalf("run %d persist: %v", run, err)
		}
	}

	store := NewStore(path, "")
	_, records := store.Load()
	if len(records) != 2 {
		t.Fatalf("records=%d after two identical runs, want 2", len(records))
	}
}

func TestStorePersistsJSONMirror(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "orders.csv")
	jsonPath := filepath.Join(dir, "orders.jsonl")

	store := NewStore(csvPath, jsonPath)
	store.Load()
	store.Append([]*models.Order{order("1", "01.01.25", models.Sale)})
	if err := store.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json mirror missing or empty")
	}
	if _, err := os.Stat(csvPath + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestKnownSet(t *testing.T) {
	ks := NewKnownSet("a", "b", "a", "")
	if ks.Len() != 2 {
		t.Fatalf("len=%d, want 2", ks.Len())
	}
	if ks.Mark("a") {
		t.Fatalf("re-marking a known id reported new")
	}
	if !ks.Mark("c") || !ks.Has("c") {
		t.Fatalf("new id not recorded")
	}
}
