package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rcliao/layered-memory/internal/model"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"what is my email", []string{"email"}},
		{"User's email is test@example.com", []string{"user", "email", "test", "example", "com"}},
		{"Meeting at 3 pm", []string{"meeting", "3", "pm"}},
		{"is it", nil},
		{"Go go GO", []string{"go"}},
	}
	for _, tt := range tests {
		got := Keywords(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Keywords(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestKeywordSearchRanking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	email := mustInsert(t, s, InsertParams{Content: "User's email is test@example.com", Category: model.CategoryContact})
	mustInsert(t, s, InsertParams{Content: "Likes long walks on the beach"})
	mustInsert(t, s, InsertParams{Content: "Work email signature should be short", Category: model.CategoryWork})

	res, err := s.KeywordSearch(ctx, KeywordParams{Query: "what is my email"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 email hits, got %d", len(res))
	}

	res, _ = s.KeywordSearch(ctx, KeywordParams{Query: "email test", Category: model.CategoryContact})
	if len(res) != 1 || res[0].ID != email.ID {
		t.Errorf("expected the contact record only, got %+v", res)
	}
}

func TestKeywordSearchSubstringFallback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// every token is a stop word, so only the substring scan can find it
	m := mustInsert(t, s, InsertParams{Content: "Is it?"})

	res, err := s.KeywordSearch(ctx, KeywordParams{Query: "is it"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != m.ID {
		t.Errorf("expected substring hit, got %+v", res)
	}

	if _, err := s.KeywordSearch(ctx, KeywordParams{Query: "  "}); !model.IsValidation(err) {
		t.Errorf("expected validation error on blank query, got %v", err)
	}
}

func TestKeywordSearchExcludesArchived(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := mustInsert(t, s, InsertParams{Content: "dentist appointment friday"})
	s.Archive(ctx, m.ID)

	res, _ := s.KeywordSearch(ctx, KeywordParams{Query: "dentist"})
	if len(res) != 0 {
		t.Errorf("archived record leaked into default search")
	}
	res, _ = s.KeywordSearch(ctx, KeywordParams{Query: "dentist", IncludeArchived: true})
	if len(res) != 1 {
		t.Errorf("expected archived record with includeArchived, got %d", len(res))
	}
}

func TestFindByPattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustInsert(t, s, InsertParams{Content: "My EMAIL is a@b.c"})
	mustInsert(t, s, InsertParams{Content: "Café on the corner"})
	mustInsert(t, s, InsertParams{Content: "nothing relevant"})

	res, err := s.FindByPattern(ctx, PatternParams{Pattern: "email"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Errorf("expected case-insensitive match, got %d", len(res))
	}

	res, _ = s.FindByPattern(ctx, PatternParams{Pattern: "CAFÉ"})
	if len(res) != 1 {
		t.Errorf("expected unicode case folding, got %d", len(res))
	}

	if _, err := s.FindByPattern(ctx, PatternParams{}); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestFindByFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustInsert(t, s, InsertParams{Content: "ship the release", Category: model.CategoryWork, Importance: 0.9, Tags: []string{"q3"}})
	mustInsert(t, s, InsertParams{Content: "refactor ci", Category: model.CategoryWork, Importance: 0.3})
	g := mustInsert(t, s, InsertParams{Content: "run a marathon", Category: model.CategoryGoal, Importance: 0.7})
	s.Archive(ctx, g.ID)

	res, _ := s.FindByFilter(ctx, FilterParams{Category: model.CategoryWork})
	if len(res) != 2 {
		t.Errorf("expected 2 work records, got %d", len(res))
	}

	res, _ = s.FindByFilter(ctx, FilterParams{MinImportance: 0.5, OrderBy: OrderImportance})
	if len(res) != 1 || res[0].Content != "ship the release" {
		t.Errorf("expected importance filter to drop archived and low records, got %+v", res)
	}

	res, _ = s.FindByFilter(ctx, FilterParams{MinImportance: 0.5, IncludeArchived: true, OrderBy: OrderImportance})
	if len(res) != 2 || res[0].Importance < res[1].Importance {
		t.Errorf("expected importance ordering with archived, got %+v", res)
	}

	res, _ = s.FindByFilter(ctx, FilterParams{Tags: []string{"q3"}})
	if len(res) != 1 {
		t.Errorf("expected tag filter, got %d", len(res))
	}

	res, _ = s.FindByFilter(ctx, FilterParams{Since: time.Now().Add(time.Hour)})
	if len(res) != 0 {
		t.Errorf("expected nothing created in the future, got %d", len(res))
	}

	res, _ = s.FindByFilter(ctx, FilterParams{Limit: 1})
	if len(res) != 1 {
		t.Errorf("expected limit 1, got %d", len(res))
	}
}

func TestPatternScanLimits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 6; i++ {
		mustInsert(t, s, InsertParams{Content: "is it so?"})
	}
	mustInsert(t, s, InsertParams{Content: "unrelated"})

	res, err := s.KeywordSearch(ctx, KeywordParams{Query: "is it", Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Errorf("expected substring fallback capped at 3, got %d", len(res))
	}

	res, _ = s.FindByPattern(ctx, PatternParams{Pattern: "IS IT", Limit: 2})
	if len(res) != 2 {
		t.Errorf("expected pattern scan capped at 2, got %d", len(res))
	}
}

func TestFindByPatternASCIINeedleInUnicodeText(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := mustInsert(t, s, InsertParams{Content: "ÉCOLE Normale reunion"})
	mustInsert(t, s, InsertParams{Content: "nothing relevant"})

	res, err := s.FindByPattern(ctx, PatternParams{Pattern: "cole norm"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != m.ID {
		t.Errorf("expected the mixed-script record, got %+v", res)
	}
}
