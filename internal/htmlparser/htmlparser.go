// Package htmlparser implements contentparser.ContentParser and
// ContentParserPlugin over rule-based CSS (goquery), XPath (htmlquery), and
// regex extraction, grounded on internal/parser/css.go, xpath.go, regex.go,
// and composite.go. Unlike the teacher's Parser (which consumes a
// *types.Response), Extract operates on the plain HTML string a handler
// gets from FetchResponse.Content, matching the core's ContentParser
// contract (spec.md §6: `extract(content, parseContext) -> Output`).
package htmlparser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/archenemy/crawlforge/internal/contentparser"
)

// RuleType selects which extraction strategy a Rule uses.
type RuleType string

const (
	RuleCSS   RuleType = "css"
	RuleXPath RuleType = "xpath"
	RuleRegex RuleType = "regex"
)

// Rule describes one field extraction.
type Rule struct {
	Name      string
	Type      RuleType // defaults to RuleCSS when empty
	Selector  string   // CSS selector or XPath expression
	Attribute string   // "", "text", "html", "outerHTML", or an element attribute
	Pattern   string   // regex pattern, only for RuleType RuleRegex
}

// Output is what Parser.Extract returns: extracted fields plus links
// discovered on the page (always populated, for discovery-mode crawls).
type Output struct {
	Fields map[string]any
	Links  []string
}

// Parser is the bundled reference ContentParser, grounded on the teacher's
// CompositeParser delegation-by-rule-type design.
type Parser struct {
	rules      []Rule
	logger     *slog.Logger
	regexCache map[string]*regexp.Regexp
}

var (
	_ contentparser.ContentParser       = (*Parser)(nil)
	_ contentparser.ContentParserPlugin = (*Parser)(nil)
)

// New constructs a Parser that applies rules on every Extract call.
func New(rules []Rule, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{rules: rules, logger: logger.With("component", "htmlparser"), regexCache: make(map[string]*regexp.Regexp)}
}

// Extract implements contentparser.ContentParser.
func (p *Parser) Extract(ctx context.Context, pc contentparser.ParseContext) (any, error) {
	content := pc.Content

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("htmlparser: parse document: %w", err)
	}

	out := Output{Fields: make(map[string]any), Links: p.extractLinks(doc, pc.URL)}

	var xpathDoc *html.Node
	for _, rule := range p.rules {
		var values []string
		switch rule.Type {
		case RuleXPath:
			if xpathDoc == nil {
				xpathDoc, err = html.Parse(strings.NewReader(content))
				if err != nil {
					p.logger.Warn("xpath document parse failed", "error", err)
					continue
				}
			}
			values = p.extractXPath(xpathDoc, rule)
		case RuleRegex:
			values = p.extractRegex(rule, content)
		default:
			values = p.extractCSS(doc, rule)
		}

		if len(values) == 1 {
			out.Fields[rule.Name] = values[0]
		} else if len(values) > 1 {
			out.Fields[rule.Name] = values
		}
	}

	return out, nil
}

// Applies implements contentparser.ContentParserPlugin: this reference
// parser applies whenever it has at least one rule configured, letting it
// double as the default plugin in a composite registry (see
// internal/contentparser's plugin-dispatch convention).
func (p *Parser) Applies(pc contentparser.ParseContext) bool {
	return len(p.rules) > 0
}

func (p *Parser) extractCSS(doc *goquery.Document, rule Rule) []string {
	var values []string
	doc.Find(rule.Selector).Each(func(_ int, sel *goquery.Selection) {
		var val string
		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(sel.Text())
		case "html", "innerHTML":
			val, _ = sel.Html()
		case "outerHTML":
			val, _ = goquery.OuterHtml(sel)
		default:
			val, _ = sel.Attr(rule.Attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	})
	return values
}

func (p *Parser) extractXPath(doc *html.Node, rule Rule) []string {
	nodes, err := htmlquery.QueryAll(doc, rule.Selector)
	if err != nil {
		p.logger.Warn("invalid xpath", "selector", rule.Selector, "error", err)
		return nil
	}
	var values []string
	for _, node := range nodes {
		var val string
		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(htmlquery.InnerText(node))
		case "html", "innerHTML":
			val = htmlquery.OutputHTML(node, false)
		case "outerHTML":
			val = htmlquery.OutputHTML(node, true)
		default:
			val = htmlquery.SelectAttr(node, rule.Attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	}
	return values
}

func (p *Parser) extractRegex(rule Rule, body string) []string {
	re, ok := p.regexCache[rule.Pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(rule.Pattern)
		if err != nil {
			p.logger.Warn("invalid regex", "pattern", rule.Pattern, "error", err)
			return nil
		}
		p.regexCache[rule.Pattern] = re
	}

	names := re.SubexpNames()
	hasNamed := false
	for _, n := range names {
		if n != "" {
			hasNamed = true
			break
		}
	}

	var values []string
	if hasNamed || re.NumSubexp() > 0 {
		for _, match := range re.FindAllStringSubmatch(body, -1) {
			if hasNamed {
				for i, n := range names {
					if n != "" && i < len(match) && match[i] != "" {
						values = append(values, match[i])
					}
				}
			} else if len(match) > 1 {
				values = append(values, match[1])
			}
		}
	} else {
		values = re.FindAllString(body, -1)
	}
	return values
}

func (p *Parser) extractLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists || href == "" {
			return
		}
		href = strings.TrimSpace(href)
		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "data:") {
			return
		}
		parsedHref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(parsedHref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links
}
