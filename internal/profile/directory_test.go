package profile

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory()
	d.AddRegion(Region{ID: "77", Name: "Moscow", Code: "RU-MOW"})
	d.AddCategory(Category{ID: "c1", Code: "PENSIONER", Title: "Pensioner"})
	d.AddCategory(Category{ID: "c2", Code: "DISABLED_2", Title: "Disability group II"})
	d.AddCategory(Category{ID: "c3", Code: "VETERAN", Title: "Veteran"})
	d.Assign("u1", "c1", true)
	d.Assign("u1", "c2", true)
	d.Assign("u1", "c3", false)

	ctx := context.Background()
	r, err := d.Region(ctx, "77")
	if err != nil || r.Name != "Moscow" {
		t.Fatalf("region lookup: %+v %v", r, err)
	}
	if _, err := d.Region(ctx, "99"); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("expected ErrRegionNotFound, got %v", err)
	}

	cats, err := d.ConfirmedCategories(ctx, "u1")
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 2 || cats[0].Code != "DISABLED_2" || cats[1].Code != "PENSIONER" {
		t.Fatalf("unexpected categories: %+v", cats)
	}

	none, err := d.ConfirmedCategories(ctx, "nobody")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v %v", none, err)
	}
}

func TestFederalSubjectsSeed(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range FederalSubjects {
		if r.ID == "" || r.Name == "" || r.Code != r.ID {
			t.Fatalf("malformed region %+v", r)
		}
		if seen[r.ID] {
			t.Fatalf("duplicate region %s", r.ID)
		}
		seen[r.ID] = true
	}

	d := NewMemoryDirectory()
	d.SeedRegions(FederalSubjects)
	r, err := d.Region(context.Background(), "77")
	if err != nil || r.Name != "Москва" {
		t.Fatalf("seeded region lookup: %+v %v", r, err)
	}
}
