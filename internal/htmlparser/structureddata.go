package htmlparser

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DataType identifies the kind of structured metadata a StructuredData
// value was extracted from.
type DataType string

const (
	JSONLD      DataType = "json-ld"
	Microdata   DataType = "microdata"
	OpenGraph   DataType = "opengraph"
	TwitterCard DataType = "twitter_card"
	MetaTags    DataType = "meta"
)

// StructuredData is one piece of page metadata discovered by
// ExtractStructuredData.
type StructuredData struct {
	Type DataType       `json:"type"`
	Data map[string]any `json:"data"`
	Raw  string         `json:"raw,omitempty"`
}

// ExtractStructuredData pulls JSON-LD, OpenGraph, Twitter Card, Microdata,
// and standard meta tags out of an already-parsed document, grounded on
// internal/parser/structured.go. It is invoked separately from Extract so a
// handler can opt into the (comparatively expensive) full sweep only when it
// actually wants page-level metadata rather than rule-driven fields.
func ExtractStructuredData(doc *goquery.Document) []StructuredData {
	var results []StructuredData

	results = append(results, extractJSONLD(doc)...)

	if og := extractMetaPrefixed(doc, `meta[property^="og:"]`, "property", "og:"); len(og) > 0 {
		results = append(results, StructuredData{Type: OpenGraph, Data: og})
	}
	if tc := extractTwitterCard(doc); len(tc) > 0 {
		results = append(results, StructuredData{Type: TwitterCard, Data: tc})
	}

	results = append(results, extractMicrodata(doc)...)

	if meta := extractMetaTags(doc); len(meta) > 0 {
		results = append(results, StructuredData{Type: MetaTags, Data: meta})
	}

	return results
}

func extractJSONLD(doc *goquery.Document) []StructuredData {
	var results []StructuredData

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			results = append(results, StructuredData{Type: JSONLD, Data: obj, Raw: raw})
			return
		}

		var arr []map[string]any
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			for _, obj := range arr {
				results = append(results, StructuredData{Type: JSONLD, Data: obj, Raw: raw})
			}
		}
	})

	return results
}

func extractMetaPrefixed(doc *goquery.Document, selector, attr, prefix string) map[string]any {
	data := make(map[string]any)
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		key, _ := sel.Attr(attr)
		content, _ := sel.Attr("content")
		if key != "" && content != "" {
			data[strings.TrimPrefix(key, prefix)] = content
		}
	})
	return data
}

func extractTwitterCard(doc *goquery.Document) map[string]any {
	data := make(map[string]any)
	doc.Find(`meta[name^="twitter:"], meta[property^="twitter:"]`).Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			name, _ = sel.Attr("property")
		}
		content, _ := sel.Attr("content")
		if name != "" && content != "" {
			data[strings.TrimPrefix(name, "twitter:")] = content
		}
	})
	return data
}

func extractMicrodata(doc *goquery.Document) []StructuredData {
	var results []StructuredData

	doc.Find("[itemscope]:not([itemscope] [itemscope])").Each(func(_ int, sel *goquery.Selection) {
		data := make(map[string]any)

		if itemType, ok := sel.Attr("itemtype"); ok && itemType != "" {
			data["@type"] = itemType
		}

		sel.Find("[itemprop]").Each(func(_ int, prop *goquery.Selection) {
			name, _ := prop.Attr("itemprop")
			if name == "" {
				return
			}
			var value string
			switch {
			case hasAttr(prop, "href"):
				value, _ = prop.Attr("href")
			case hasAttr(prop, "src"):
				value, _ = prop.Attr("src")
			case hasAttr(prop, "content"):
				value, _ = prop.Attr("content")
			case hasAttr(prop, "datetime"):
				value, _ = prop.Attr("datetime")
			default:
				value = strings.TrimSpace(prop.Text())
			}
			if value != "" {
				data[name] = value
			}
		})

		if len(data) > 0 {
			results = append(results, StructuredData{Type: Microdata, Data: data})
		}
	})

	return results
}

func hasAttr(sel *goquery.Selection, name string) bool {
	_, ok := sel.Attr(name)
	return ok
}

func extractMetaTags(doc *goquery.Document) map[string]any {
	data := make(map[string]any)

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		data["title"] = title
	}

	for _, name := range []string{"description", "keywords", "author", "robots", "viewport", "generator"} {
		if content, ok := doc.Find(`meta[name="` + name + `"]`).Attr("content"); ok && content != "" {
			data[name] = content
		}
	}
	if canonical, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && canonical != "" {
		data["canonical"] = canonical
	}

	return data
}
