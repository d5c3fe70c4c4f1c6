package importer

import (
	"context"
	"strings"
	"testing"

	"storefront/internal/domain"
)

type stubProductRepo struct {
	items []domain.Product
}

func (s *stubProductRepo) Upsert(_ context.Context, p domain.Product) (*domain.Product, error) {
	s.items = append(s.items, p)
	return &p, nil
}

func TestCSVImporter_Run(t *testing.T) {
	csvData := "\ufeffid,name,description,price,currency,image,category\n" +
		"1,Premium Laptop,Fast laptop,1299.99,USD,/images/laptop.jpg,electronics\n" +
		",,,,,,\n" +
		"4,Smartphone,,800,,/images/phone.jpg,\n" +
		"5,Sticker,,0.1,usd,,\n"

	repo := &stubProductRepo{}
	imp := NewCSVImporter(strings.NewReader(csvData), repo, "usd")

	count, err := imp.Run(context.Background())
	if err != nil {
		t.Fatalf("import run: %v", err)
	}
	if count != 3 || len(repo.items) != 3 {
		t.Fatalf("expected 3 products imported, got %d/%d", count, len(repo.items))
	}

	laptop := repo.items[0]
	if laptop.ID != "1" || laptop.PriceCents != 129999 || laptop.Currency != "usd" || laptop.Category != "electronics" {
		t.Fatalf("unexpected product data: %+v", laptop)
	}
	phone := repo.items[1]
	if phone.PriceCents != 80000 || phone.Currency != "usd" || phone.Description != "" {
		t.Fatalf("expected default currency and whole price, got %+v", phone)
	}
	if repo.items[2].PriceCents != 10 {
		t.Fatalf("expected 0.1 to become 10 cents, got %d", repo.items[2].PriceCents)
	}
}

func TestCSVImporter_RejectsBadRows(t *testing.T) {
	cases := []struct {
		name string
		csv  string
	}{
		{name: "missing price column", csv: "id,name\n1,Laptop\n"},
		{name: "sub-cent price", csv: "id,name,price\n1,Laptop,12.999\n"},
		{name: "negative price", csv: "id,name,price\n1,Laptop,-1\n"},
		{name: "garbage price", csv: "id,name,price\n1,Laptop,cheap\n"},
		{name: "missing name", csv: "id,name,price\n1,,10\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubProductRepo{}
			if _, err := NewCSVImporter(strings.NewReader(tc.csv), repo, "usd").Run(context.Background()); err == nil {
				t.Fatalf("expected error")
			}
			if len(repo.items) != 0 {
				t.Fatalf("expected nothing written, got %d", len(repo.items))
			}
		})
	}
}

func TestMinorUnits(t *testing.T) {
	cases := map[string]int64{
		"1299.99": 129999,
		"199.99":  19999,
		"$249.99": 24999,
		"800":     80000,
		"0":       0,
		"12.50":   1250,
	}
	for raw, want := range cases {
		got, err := minorUnits(raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("%s: expected %d, got %d", raw, want, got)
		}
	}
}
