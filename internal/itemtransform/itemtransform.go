// Package itemtransform implements an optional post-extraction transform
// chain applied to a pushData payload before it reaches the ProgressWriter
// and any configured Sinks, grounded on internal/pipeline/pipeline.go (the
// Use/Process chain shape) and internal/pipeline/middleware.go (the built-in
// transforms below). The teacher's chain operated on a *types.Item wrapper;
// here it operates directly on the map[string]any a ContentParser or
// ContentParserPlugin already produces, since crawlforge has no equivalent
// wrapper type to thread through handlers.
package itemtransform

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Transform processes one item's fields and returns the (possibly modified)
// result. Returning a nil map drops the item from the chain.
type Transform interface {
	Name() string
	Process(fields map[string]any) (map[string]any, error)
}

// Chain runs a sequence of Transforms over pushData payloads.
type Chain struct {
	transforms []Transform
	logger     *slog.Logger
}

// New constructs an empty Chain.
func New(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger.With("component", "itemtransform")}
}

// Use appends t to the chain.
func (c *Chain) Use(t Transform) {
	c.transforms = append(c.transforms, t)
}

// Len returns the number of transforms in the chain.
func (c *Chain) Len() int { return len(c.transforms) }

// DroppedError signals that a transform intentionally dropped the item; the
// caller should treat this as "nothing to push", not a failure.
type DroppedError struct {
	Stage string
}

func (e *DroppedError) Error() string { return fmt.Sprintf("itemtransform: dropped at %q", e.Stage) }

// Process runs fields through every registered transform in order.
func (c *Chain) Process(fields map[string]any) (map[string]any, error) {
	current := fields
	for _, t := range c.transforms {
		result, err := t.Process(current)
		if err != nil {
			return nil, fmt.Errorf("itemtransform: stage %q: %w", t.Name(), err)
		}
		if result == nil {
			c.logger.Debug("item dropped", "stage", t.Name())
			return nil, &DroppedError{Stage: t.Name()}
		}
		current = result
	}
	return current, nil
}

// --- Built-in transforms ---

// FieldFilter keeps only the named fields.
type FieldFilter struct{ Fields map[string]bool }

func (f *FieldFilter) Name() string { return "field_filter" }

func (f *FieldFilter) Process(fields map[string]any) (map[string]any, error) {
	if len(f.Fields) == 0 {
		return fields, nil
	}
	for k := range fields {
		if !f.Fields[k] {
			delete(fields, k)
		}
	}
	return fields, nil
}

// FieldRename renames fields per Mapping (old -> new).
type FieldRename struct{ Mapping map[string]string }

func (f *FieldRename) Name() string { return "field_rename" }

func (f *FieldRename) Process(fields map[string]any) (map[string]any, error) {
	for oldKey, newKey := range f.Mapping {
		if v, ok := fields[oldKey]; ok {
			fields[newKey] = v
			delete(fields, oldKey)
		}
	}
	return fields, nil
}

// RequiredFields drops the item if any named field is absent or empty.
type RequiredFields struct{ Fields []string }

func (r *RequiredFields) Name() string { return "required_fields" }

func (r *RequiredFields) Process(fields map[string]any) (map[string]any, error) {
	for _, field := range r.Fields {
		v, ok := fields[field]
		if !ok || v == nil {
			return nil, nil
		}
		if s, isStr := v.(string); isStr && s == "" {
			return nil, nil
		}
	}
	return fields, nil
}

// Dedup drops items whose Key field value has already been seen.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
	key  string
}

// NewDedup constructs a Dedup transform keyed on field key.
func NewDedup(key string) *Dedup {
	return &Dedup{seen: make(map[string]struct{}), key: key}
}

func (d *Dedup) Name() string { return "dedup" }

func (d *Dedup) Process(fields map[string]any) (map[string]any, error) {
	val := fmt.Sprintf("%v", fields[d.key])

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.seen[val]; exists {
		return nil, nil
	}
	d.seen[val] = struct{}{}
	return fields, nil
}

// DefaultValues fills in any missing field with its configured default.
type DefaultValues struct{ Defaults map[string]any }

func (d *DefaultValues) Name() string { return "default_values" }

func (d *DefaultValues) Process(fields map[string]any) (map[string]any, error) {
	for k, v := range d.Defaults {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return fields, nil
}

// Trim trims whitespace from every string field.
type Trim struct{}

func (Trim) Name() string { return "trim" }

func (Trim) Process(fields map[string]any) (map[string]any, error) {
	for k, v := range fields {
		if s, ok := v.(string); ok {
			fields[k] = strings.TrimSpace(s)
		}
	}
	return fields, nil
}

// HTMLSanitize strips HTML tags and decodes entities in string fields.
type HTMLSanitize struct{ stripRe *regexp.Regexp }

// NewHTMLSanitize constructs an HTMLSanitize transform.
func NewHTMLSanitize() *HTMLSanitize {
	return &HTMLSanitize{stripRe: regexp.MustCompile(`<[^>]*>`)}
}

func (h *HTMLSanitize) Name() string { return "html_sanitize" }

func (h *HTMLSanitize) Process(fields map[string]any) (map[string]any, error) {
	for k, v := range fields {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		cleaned := h.stripRe.ReplaceAllString(s, "")
		cleaned = html.UnescapeString(cleaned)
		cleaned = strings.Join(strings.Fields(cleaned), " ")
		fields[k] = cleaned
	}
	return fields, nil
}

var dateInFormats = []string{
	time.RFC3339, time.RFC1123, time.RFC1123Z, time.RFC822, time.RFC822Z,
	"2006-01-02", "2006-01-02T15:04:05", "2006-01-02 15:04:05",
	"01/02/2006", "02/01/2006", "January 2, 2006", "Jan 2, 2006",
	"2 January 2006", "2 Jan 2006", "Mon, 02 Jan 2006", "02-Jan-2006",
	"2006/01/02", "01-02-2006", "Mon Jan 2 15:04:05 2006",
}

// DateNormalize reformats date-like string fields to a single output format.
type DateNormalize struct {
	Fields    []string
	OutFormat string
}

// NewDateNormalize constructs a DateNormalize transform; outFormat defaults
// to RFC3339 when empty.
func NewDateNormalize(fields []string, outFormat string) *DateNormalize {
	if outFormat == "" {
		outFormat = time.RFC3339
	}
	return &DateNormalize{Fields: fields, OutFormat: outFormat}
}

func (d *DateNormalize) Name() string { return "date_normalize" }

func (d *DateNormalize) Process(fields map[string]any) (map[string]any, error) {
	for _, field := range d.Fields {
		s, ok := fields[field].(string)
		if !ok || s == "" {
			continue
		}
		s = strings.TrimSpace(s)
		for _, format := range dateInFormats {
			if t, err := time.Parse(format, s); err == nil {
				fields[field] = t.Format(d.OutFormat)
				break
			}
		}
	}
	return fields, nil
}

// CurrencyNormalize strips currency symbols/thousands separators down to a
// plain numeric string, handling both US (1,234.56) and European
// (1.234,56) formats.
type CurrencyNormalize struct {
	Fields  []string
	stripRe *regexp.Regexp
}

// NewCurrencyNormalize constructs a CurrencyNormalize transform.
func NewCurrencyNormalize(fields []string) *CurrencyNormalize {
	return &CurrencyNormalize{Fields: fields, stripRe: regexp.MustCompile(`[^0-9.,\-]`)}
}

func (c *CurrencyNormalize) Name() string { return "currency_normalize" }

func (c *CurrencyNormalize) Process(fields map[string]any) (map[string]any, error) {
	for _, field := range c.Fields {
		s, ok := fields[field].(string)
		if !ok || s == "" {
			continue
		}
		numeric := c.stripRe.ReplaceAllString(s, "")
		if strings.Contains(numeric, ",") {
			lastComma := strings.LastIndex(numeric, ",")
			lastDot := strings.LastIndex(numeric, ".")
			if lastComma > lastDot {
				numeric = strings.ReplaceAll(numeric, ".", "")
				numeric = strings.Replace(numeric, ",", ".", 1)
			} else {
				numeric = strings.ReplaceAll(numeric, ",", "")
			}
		}
		fields[field] = numeric
	}
	return fields, nil
}

// TypeCoercion converts named fields to a target Go type.
type TypeCoercion struct{ Coercions map[string]string } // field -> "int"/"float"/"bool"/"string"

func (t *TypeCoercion) Name() string { return "type_coercion" }

func (t *TypeCoercion) Process(fields map[string]any) (map[string]any, error) {
	for field, target := range t.Coercions {
		v, ok := fields[field]
		if !ok {
			continue
		}
		s := fmt.Sprintf("%v", v)
		switch target {
		case "int":
			i, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			fields[field] = i
		case "float":
			f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
			fields[field] = f
		case "bool":
			lower := strings.ToLower(s)
			fields[field] = lower == "true" || lower == "1" || lower == "yes"
		case "string":
			fields[field] = s
		}
	}
	return fields, nil
}

var piiPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone_us":    regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
	"ip_v4":       regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
}

// PIIRedact replaces detected PII substrings in string fields with a
// [REDACTED_<TYPE>] marker.
type PIIRedact struct{ logger *slog.Logger }

// NewPIIRedact constructs a PIIRedact transform.
func NewPIIRedact(logger *slog.Logger) *PIIRedact {
	if logger == nil {
		logger = slog.Default()
	}
	return &PIIRedact{logger: logger.With("component", "pii_redact")}
}

func (p *PIIRedact) Name() string { return "pii_redact" }

func (p *PIIRedact) Process(fields map[string]any) (map[string]any, error) {
	for k, v := range fields {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		for piiType, re := range piiPatterns {
			if re.MatchString(s) {
				s = re.ReplaceAllString(s, "[REDACTED_"+strings.ToUpper(piiType)+"]")
				p.logger.Debug("PII redacted", "field", k, "type", piiType)
			}
		}
		fields[k] = s
	}
	return fields, nil
}

// WordCount adds a "<field>_word_count" field for each named text field.
type WordCount struct{ Fields []string }

func (w *WordCount) Name() string { return "word_count" }

func (w *WordCount) Process(fields map[string]any) (map[string]any, error) {
	for _, field := range w.Fields {
		s, ok := fields[field].(string)
		if !ok || s == "" {
			continue
		}
		fields[field+"_word_count"] = len(strings.Fields(s))
	}
	return fields, nil
}
