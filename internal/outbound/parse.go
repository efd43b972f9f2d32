package outbound

import (
	"encoding/json"
	"fmt"
)

// GeneratedImage is one normalized entry extracted from an
// image-generation response: a URL or a data URL built from inline
// base64 content.
type GeneratedImage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// imageParseStrategy attempts to extract images from one known response
// shape. It returns the normalized entries and true on a match, or false
// when the response does not have this shape.
type imageParseStrategy struct {
	name  string
	parse func(raw json.RawMessage) ([]GeneratedImage, bool)
}

// imageParseStrategies are tried in priority order; the first strategy
// that matches wins. The order is part of the observable behavior: a
// response that matches several shapes must normalize the same way it
// always has.
var imageParseStrategies = []imageParseStrategy{
	{name: "top_level_list", parse: parseTopLevelList},
	{name: "data_field", parse: parseWrappedList("data")},
	{name: "images_field", parse: parseWrappedList("images")},
	{name: "single_url", parse: parseSingleField("url")},
	{name: "single_b64", parse: parseSingleField("b64_json")},
}

// NormalizeImageResponse parses a heterogeneous image-generation response
// into a list of normalized image entries. Image providers disagree on
// response shape: some return a top-level list of URL or base64 objects,
// some wrap the list in a "data" or "images" field, and some return a
// single url or b64 value.
func NormalizeImageResponse(raw json.RawMessage) ([]GeneratedImage, error) {
	for _, strategy := range imageParseStrategies {
		if images, ok := strategy.parse(raw); ok {
			if len(images) == 0 {
				continue
			}
			return images, nil
		}
	}
	return nil, fmt.Errorf("image response matched no known shape")
}

// imageEntry is the per-item shape shared by list-style responses.
type imageEntry struct {
	URL     string `json:"url"`
	B64JSON string `json:"b64_json"`
}

// normalize converts one raw entry into a GeneratedImage, preferring the
// URL form and falling back to a data URL for inline base64 content.
func (e imageEntry) normalize() (GeneratedImage, bool) {
	if e.URL != "" {
		return GeneratedImage{Type: "image", URL: e.URL}, true
	}
	if e.B64JSON != "" {
		return GeneratedImage{Type: "image", URL: "data:image/png;base64," + e.B64JSON}, true
	}
	return GeneratedImage{}, false
}

// parseTopLevelList handles a bare JSON array of URL/base64 objects or
// plain URL strings.
func parseTopLevelList(raw json.RawMessage) ([]GeneratedImage, bool) {
	var entries []imageEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		return collectEntries(entries), true
	}

	var urls []string
	if err := json.Unmarshal(raw, &urls); err == nil {
		images := make([]GeneratedImage, 0, len(urls))
		for _, url := range urls {
			if url != "" {
				images = append(images, GeneratedImage{Type: "image", URL: url})
			}
		}
		return images, true
	}

	return nil, false
}

// parseWrappedList handles `{"<field>": [...]}` responses.
func parseWrappedList(field string) func(json.RawMessage) ([]GeneratedImage, bool) {
	return func(raw json.RawMessage) ([]GeneratedImage, bool) {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, false
		}

		inner, ok := wrapper[field]
		if !ok {
			return nil, false
		}

		var entries []imageEntry
		if err := json.Unmarshal(inner, &entries); err != nil {
			return nil, false
		}
		return collectEntries(entries), true
	}
}

// parseSingleField handles `{"url": "..."}` and `{"b64_json": "..."}`
// responses.
func parseSingleField(field string) func(json.RawMessage) ([]GeneratedImage, bool) {
	return func(raw json.RawMessage) ([]GeneratedImage, bool) {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, false
		}

		inner, ok := wrapper[field]
		if !ok {
			return nil, false
		}

		var value string
		if err := json.Unmarshal(inner, &value); err != nil || value == "" {
			return nil, false
		}

		entry := imageEntry{}
		if field == "url" {
			entry.URL = value
		} else {
			entry.B64JSON = value
		}

		image, ok := entry.normalize()
		if !ok {
			return nil, false
		}
		return []GeneratedImage{image}, true
	}
}

// collectEntries normalizes a list of raw entries, dropping empty ones.
func collectEntries(entries []imageEntry) []GeneratedImage {
	images := make([]GeneratedImage, 0, len(entries))
	for _, entry := range entries {
		if image, ok := entry.normalize(); ok {
			images = append(images, image)
		}
	}
	return images
}
