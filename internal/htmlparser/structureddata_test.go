package htmlparser

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const structuredHTML = `
<html><head>
  <title>Widget Shop</title>
  <meta name="description" content="Buy widgets online">
  <meta property="og:title" content="Widget Shop OG">
  <script type="application/ld+json">{"@type":"Product","name":"Widget"}</script>
</head>
<body>
  <div itemscope itemtype="https://schema.org/Product">
    <span itemprop="name">Widget</span>
  </div>
</body></html>`

func TestExtractStructuredDataFindsAllKinds(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(structuredHTML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	results := ExtractStructuredData(doc)

	var types []DataType
	for _, r := range results {
		types = append(types, r.Type)
	}

	want := map[DataType]bool{JSONLD: false, OpenGraph: false, Microdata: false, MetaTags: false}
	for _, tp := range types {
		want[tp] = true
	}
	for tp, found := range want {
		if !found {
			t.Errorf("expected to find a %s result, got %v", tp, types)
		}
	}
}
