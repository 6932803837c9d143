package catalog

import (
	"errors"
	"testing"
)

func TestLookupKnownCosts(t *testing.T) {
	cases := map[string]int64{
		"music_split_stem_full": 50,
		"music_convert_wav":     1,
		"music_generate_v5":     6,
		"image_standard":        25,
		"video_gen4_turbo_10s":  50,
		"video_gen3a_turbo_5s":  20,
		"chat_basic":            0,
		"design_export_svg":     0,
		"live_audio_5min":       13,
	}
	for name, want := range cases {
		op, err := Lookup(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		if op.Cost != want {
			t.Fatalf("%s cost = %d, want %d", name, op.Cost, want)
		}
		if op.IsFree() != (want == 0) {
			t.Fatalf("%s free = %v", name, op.IsFree())
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("music_generate_v9"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestSelectKeepsResolvedPrices(t *testing.T) {
	prices := []Price{
		{Operation: withCost(MustLookup("chat_basic"), 3), Source: SourceOverride},
		{Operation: MustLookup("image_ultra"), Source: SourceStatic},
		{Operation: MustLookup("chat_advanced"), Source: SourceStatic},
	}
	chat := Select(prices, ByCategory(CategoryChat))
	if len(chat) != 2 {
		t.Fatalf("expected 2 chat prices, got %d", len(chat))
	}
	if chat[0].Name != "chat_basic" || chat[0].Cost != 3 || chat[0].Source != SourceOverride {
		t.Fatalf("override lost: %+v", chat[0])
	}
	if got := Select(prices, nil); len(got) != 0 {
		t.Fatalf("expected empty selection, got %d", len(got))
	}
}

func TestMustLookup(t *testing.T) {
	if op := MustLookup("music_generate_midi"); op.Cost != 1 || op.Category != CategoryMusic {
		t.Fatalf("unexpected operation %+v", op)
	}
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrUnknownOperation) {
			t.Fatalf("expected ErrUnknownOperation panic, got %v", r)
		}
	}()
	MustLookup("music_convert_flac")
}

func TestCatalogNamesUniqueAndCategorised(t *testing.T) {
	seen := map[string]bool{}
	valid := map[Category]bool{}
	for _, c := range Categories {
		valid[c] = true
	}
	for _, op := range All() {
		if seen[op.Name] {
			t.Fatalf("duplicate operation %s", op.Name)
		}
		seen[op.Name] = true
		if !valid[op.Category] {
			t.Fatalf("%s has unknown category %q", op.Name, op.Category)
		}
		if op.Cost < 0 {
			t.Fatalf("%s has negative cost", op.Name)
		}
		if op.DisplayName == "" {
			t.Fatalf("%s has no display name", op.Name)
		}
	}
}

func TestMusicGenerateOperation(t *testing.T) {
	cases := map[string]string{
		"V4_5PLUS": "music_generate_v4_5plus",
		"v4_5plus": "music_generate_v4_5plus",
		"V3_5":     "music_generate_v3_5",
		"v5":       "music_generate_v5",
		"V4.5":     "music_generate_v4_5",
	}
	for model, want := range cases {
		got, err := MusicGenerateOperation(model)
		if err != nil {
			t.Fatalf("%s: %v", model, err)
		}
		if got != want {
			t.Fatalf("%s -> %s, want %s", model, got, want)
		}
	}
	if _, err := MusicGenerateOperation("chirp"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected unknown model error, got %v", err)
	}
}

func TestVideoOperation(t *testing.T) {
	cases := []struct {
		model    string
		duration int
		want     string
	}{
		{"gen4_turbo", 5, "video_gen4_turbo_5s"},
		{"gen4_turbo", 0, "video_gen4_turbo_5s"},
		{"gen4_turbo", 10, "video_gen4_turbo_10s"},
		{"GEN3A_TURBO", 10, "video_gen3a_turbo_5s"},
		{"gen4_aleph", 5, "video_gen4_aleph_5s"},
		{"upscale", 10, "video_upscale_10s"},
	}
	for _, tc := range cases {
		got, err := VideoOperation(tc.model, tc.duration)
		if err != nil {
			t.Fatalf("%s/%d: %v", tc.model, tc.duration, err)
		}
		if got != tc.want {
			t.Fatalf("%s/%d -> %s, want %s", tc.model, tc.duration, got, tc.want)
		}
	}
	if _, err := VideoOperation("sora", 5); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected unknown model error, got %v", err)
	}
}

func TestImageAndDesignOperation(t *testing.T) {
	if got, _ := ImageOperation(""); got != "image_standard" {
		t.Fatalf("default quality -> %s", got)
	}
	if got, _ := ImageOperation("Ultra"); got != "image_ultra" {
		t.Fatalf("ultra -> %s", got)
	}
	if got, _ := DesignOperation("remove-background"); got != "design_remove_background" {
		t.Fatalf("remove-background -> %s", got)
	}
	if _, err := DesignOperation("teleport"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected unknown design action, got %v", err)
	}
}
