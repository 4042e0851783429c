package store

import "testing"

func boolPtr(b bool) *bool { return &b }

func catalogRows(entries ...CatalogEntry) []catalogRow {
	rows := make([]catalogRow, len(entries))
	for i, e := range entries {
		rows[i] = catalogRow{entry: e, provider: ServiceProvider{ID: e.ServiceProviderID}}
	}
	return rows
}

func TestPickCatalogEntry(t *testing.T) {
	cases := []struct {
		name string
		rows []catalogRow
		want int64 // entry id, 0 means nil
	}{
		{
			name: "no candidates",
			rows: nil,
			want: 0,
		},
		{
			name: "single entry",
			rows: catalogRows(CatalogEntry{ID: 7}),
			want: 7,
		},
		{
			name: "default flag wins over lower id",
			rows: catalogRows(
				CatalogEntry{ID: 3},
				CatalogEntry{ID: 9, IsDefault: boolPtr(true)},
			),
			want: 9,
		},
		{
			name: "no default flagged takes lowest id",
			rows: catalogRows(
				CatalogEntry{ID: 12},
				CatalogEntry{ID: 4},
				CatalogEntry{ID: 8},
			),
			want: 4,
		},
		{
			name: "null flag counts as not flagged",
			rows: catalogRows(
				CatalogEntry{ID: 2, IsDefault: nil},
				CatalogEntry{ID: 5, IsDefault: boolPtr(false)},
			),
			want: 2,
		},
		{
			name: "two defaults tie-break on lowest id",
			rows: catalogRows(
				CatalogEntry{ID: 6, IsDefault: boolPtr(true)},
				CatalogEntry{ID: 3, IsDefault: boolPtr(true)},
				CatalogEntry{ID: 1},
			),
			want: 3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := pickCatalogEntry(tc.rows)
			if tc.want == 0 {
				if got != nil {
					t.Fatalf("picked entry %d, want none", got.entry.ID)
				}
				return
			}
			if got == nil {
				t.Fatalf("picked no entry, want %d", tc.want)
			}
			if got.entry.ID != tc.want {
				t.Fatalf("picked entry %d, want %d", got.entry.ID, tc.want)
			}
		})
	}
}

// Selection must be stable: the same candidate set resolves to the same
// entry on every call.
func TestPickCatalogEntryIsDeterministic(t *testing.T) {
	rows := catalogRows(
		CatalogEntry{ID: 11},
		CatalogEntry{ID: 5},
	)
	first := pickCatalogEntry(rows)
	if first == nil || first.entry.ID != 5 {
		t.Fatalf("first pick = %+v, want entry 5", first)
	}
	for i := 0; i < 10; i++ {
		if got := pickCatalogEntry(rows); got == nil || got.entry.ID != first.entry.ID {
			t.Fatalf("pick %d returned %+v, want entry %d", i, got, first.entry.ID)
		}
	}
}
