package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOperation is returned when an operation name is not in the catalog.
var ErrUnknownOperation = errors.New("unknown operation")

// Category groups operations by product area.
type Category string

const (
	CategoryMusic     Category = "music"
	CategoryImage     Category = "image"
	CategoryVideo     Category = "video"
	CategoryChat      Category = "chat"
	CategoryLiveAudio Category = "live_audio"
	CategoryDesign    Category = "design_studio"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryMusic,
	CategoryImage,
	CategoryVideo,
	CategoryChat,
	CategoryLiveAudio,
	CategoryDesign,
}

// Operation describes a billable product action.
type Operation struct {
	Name        string   `json:"name" yaml:"name"`
	Cost        int64    `json:"cost" yaml:"cost"`
	Free        bool     `json:"free" yaml:"free"`
	Category    Category `json:"category" yaml:"category"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
}

// IsFree reports whether the gate can skip the balance store for this operation.
func (o Operation) IsFree() bool {
	return o.Free || o.Cost == 0
}

func op(name string, cost int64, category Category, display string) Operation {
	return Operation{Name: name, Cost: cost, Free: cost == 0, Category: category, DisplayName: display}
}

var operations = []Operation{
	op("music_generate_v3", 6, CategoryMusic, "Generate music (Suno V3)"),
	op("music_generate_v3_5", 6, CategoryMusic, "Generate music (Suno V3.5)"),
	op("music_generate_v4", 6, CategoryMusic, "Generate music (Suno V4)"),
	op("music_generate_v4_5", 6, CategoryMusic, "Generate music (Suno V4.5)"),
	op("music_generate_v4_5plus", 6, CategoryMusic, "Generate music (Suno V4.5 Plus)"),
	op("music_generate_v5", 6, CategoryMusic, "Generate music (Suno V5)"),
	op("music_add_instrumental", 6, CategoryMusic, "Add instrumental"),
	op("music_add_vocals", 6, CategoryMusic, "Add vocals"),
	op("music_extend", 6, CategoryMusic, "Extend track"),
	op("music_cover", 6, CategoryMusic, "Create cover"),
	op("music_separate_vocals", 5, CategoryMusic, "Separate vocals (2-stem)"),
	op("music_split_stem_full", 50, CategoryMusic, "Full stem split (12-stem)"),
	op("music_convert_wav", 1, CategoryMusic, "Convert to WAV"),
	op("music_generate_midi", 1, CategoryMusic, "Generate MIDI"),

	op("image_fast", 15, CategoryImage, "Imagen 4 Fast (1K)"),
	op("image_standard", 25, CategoryImage, "Imagen 4 Standard (2K)"),
	op("image_ultra", 35, CategoryImage, "Imagen 4 Ultra (4K)"),
	op("image_3", 10, CategoryImage, "Imagen 3"),
	op("image_gemini", 4, CategoryImage, "Gemini image (legacy)"),

	op("video_gen4_5s", 20, CategoryVideo, "Gen-4 video (5s)"),
	op("video_gen4_10s", 40, CategoryVideo, "Gen-4 video (10s)"),
	op("video_gen4_turbo_5s", 25, CategoryVideo, "Gen-4 Turbo video (5s)"),
	op("video_gen4_turbo_10s", 50, CategoryVideo, "Gen-4 Turbo video (10s)"),
	op("video_gen3a_turbo_5s", 20, CategoryVideo, "Gen-3a Turbo video (5s)"),
	op("video_gen4_aleph_5s", 60, CategoryVideo, "Gen-4 Aleph video (5s)"),
	op("image_to_video_5s", 18, CategoryVideo, "Image to video (5s)"),
	op("image_to_video_10s", 35, CategoryVideo, "Image to video (10s)"),
	op("video_to_video", 50, CategoryVideo, "Video to video"),
	op("act_two", 35, CategoryVideo, "Character performance (Act-Two)"),
	op("gen3_alpha_5s", 18, CategoryVideo, "Gen-3 Alpha (5s)"),
	op("gen3_alpha_10s", 35, CategoryVideo, "Gen-3 Alpha (10s)"),
	op("video_upscale_5s", 10, CategoryVideo, "Video upscale (5s)"),
	op("video_upscale_10s", 20, CategoryVideo, "Video upscale (10s)"),

	op("chat_basic", 0, CategoryChat, "Basic chat"),
	op("chat_advanced", 1, CategoryChat, "Advanced chat"),

	op("live_audio_1min", 3, CategoryLiveAudio, "Live audio (1 min)"),
	op("live_audio_5min", 13, CategoryLiveAudio, "Live audio (5 min)"),

	op("design_generate_image", 4, CategoryDesign, "Design: generate image"),
	op("design_generate_logo", 6, CategoryDesign, "Design: generate logo"),
	op("design_generate_icon", 4, CategoryDesign, "Design: generate icon"),
	op("design_generate_pattern", 4, CategoryDesign, "Design: generate pattern"),
	op("design_generate_svg", 6, CategoryDesign, "Design: generate SVG"),
	op("design_edit_image", 5, CategoryDesign, "Design: edit image"),
	op("design_remove_background", 5, CategoryDesign, "Design: remove background"),
	op("design_upscale_image", 6, CategoryDesign, "Design: upscale image"),
	op("design_generate_variations", 8, CategoryDesign, "Design: three variations"),
	op("design_analyze_image", 2, CategoryDesign, "Design: analyze image"),
	op("design_extract_colors", 2, CategoryDesign, "Design: extract palette"),
	op("design_trends", 3, CategoryDesign, "Design: trends"),
	op("design_assistant", 1, CategoryDesign, "Design: assistant"),
	op("design_export_png", 0, CategoryDesign, "Design: export PNG"),
	op("design_export_svg", 0, CategoryDesign, "Design: export SVG"),
}

var index = func() map[string]Operation {
	m := make(map[string]Operation, len(operations))
	for _, o := range operations {
		m[o.Name] = o
	}
	return m
}()

// Lookup returns the static definition of an operation.
func Lookup(name string) (Operation, error) {
	o, ok := index[name]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	return o, nil
}

// MustLookup is Lookup for names fixed at compile time. It panics on an
// unknown name.
func MustLookup(name string) Operation {
	o, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return o
}

// Known reports whether name is a catalog operation.
func Known(name string) bool {
	_, ok := index[name]
	return ok
}

// All returns a copy of the catalog in declaration order.
func All() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	return out
}

// ByCategory returns the operations of one category.
func ByCategory(category Category) []Operation {
	var out []Operation
	for _, o := range operations {
		if o.Category == category {
			out = append(out, o)
		}
	}
	return out
}

var musicModels = map[string]string{
	"V3":       "music_generate_v3",
	"V3_5":     "music_generate_v3_5",
	"V4":       "music_generate_v4",
	"V4_5":     "music_generate_v4_5",
	"V4_5PLUS": "music_generate_v4_5plus",
	"V5":       "music_generate_v5",
}

// MusicGenerateOperation maps a Suno model name (case-insensitive) to its operation.
func MusicGenerateOperation(model string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(model))
	key = strings.ReplaceAll(key, ".", "_")
	if name, ok := musicModels[key]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: music model %q", ErrUnknownOperation, model)
}

// VideoOperation maps a video model and clip duration in seconds to its operation.
func VideoOperation(model string, duration int) (string, error) {
	long := duration > 5
	switch strings.ToLower(strings.TrimSpace(model)) {
	case "gen4_turbo", "gen4-turbo":
		if long {
			return "video_gen4_turbo_10s", nil
		}
		return "video_gen4_turbo_5s", nil
	case "gen4", "gen4_video":
		if long {
			return "video_gen4_10s", nil
		}
		return "video_gen4_5s", nil
	case "gen3a_turbo", "gen3a-turbo":
		return "video_gen3a_turbo_5s", nil
	case "gen3_alpha", "gen3-alpha":
		if long {
			return "gen3_alpha_10s", nil
		}
		return "gen3_alpha_5s", nil
	case "gen4_aleph", "gen4-aleph":
		return "video_gen4_aleph_5s", nil
	case "image_to_video":
		if long {
			return "image_to_video_10s", nil
		}
		return "image_to_video_5s", nil
	case "upscale", "upscale_v1":
		if long {
			return "video_upscale_10s", nil
		}
		return "video_upscale_5s", nil
	}
	return "", fmt.Errorf("%w: video model %q", ErrUnknownOperation, model)
}

var imageQualities = map[string]string{
	"fast":     "image_fast",
	"standard": "image_standard",
	"ultra":    "image_ultra",
	"imagen3":  "image_3",
	"imagen-3": "image_3",
	"gemini":   "image_gemini",
}

// ImageOperation maps an image quality tier to its operation. Empty means standard.
func ImageOperation(quality string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(quality))
	if key == "" {
		key = "standard"
	}
	if name, ok := imageQualities[key]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: image quality %q", ErrUnknownOperation, quality)
}

// DesignOperation maps a design studio action such as "generate-logo" to its operation.
func DesignOperation(action string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(action))
	key = strings.ReplaceAll(key, "-", "_")
	name := "design_" + key
	o, ok := index[name]
	if !ok || o.Category != CategoryDesign {
		return "", fmt.Errorf("%w: design action %q", ErrUnknownOperation, action)
	}
	return name, nil
}
