// Package clipper extracts recipe ingredients from web pages.
package clipper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"mealboard/internal/apperr"
	"mealboard/internal/llm"
)

const agentName = "ingredient_extractor"

// maxPageText bounds the page text handed to the text generator.
const maxPageText = 12000

// pluginSelectors match the ingredient markup of common recipe-card plugins.
var pluginSelectors = []string{
	".wprm-recipe-ingredient",
	".tasty-recipes-ingredients li",
	".mv-create-ingredients li",
	".recipe-ingredients li",
	".ingredients li",
}

// UsageRecorder stores token usage of generator calls.
type UsageRecorder interface {
	RecordMeta(ctx context.Context, meta llm.AgentMeta) error
}

// Clipper fetches recipe pages and extracts their ingredient lists.
type Clipper struct {
	httpClient *http.Client
	textGen    llm.TextGenerator
	usage      UsageRecorder
	logger     *zap.Logger
}

// NewClipper creates a new Clipper. textGen may be nil, in which case pages without structured
// ingredient markup yield no ingredients.
func NewClipper(textGen llm.TextGenerator, usage UsageRecorder, logger *zap.Logger) *Clipper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clipper{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		textGen:    textGen,
		usage:      usage,
		logger:     logger.Named("clipper"),
	}
}

// ExtractIngredients returns the ingredient lines of the recipe at rawURL, in page order and
// without duplicates.
func (c *Clipper) ExtractIngredients(ctx context.Context, rawURL string) ([]string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.InvalidInput("A valid http(s) URL is required")
	}

	doc, err := c.fetch(ctx, u.String())
	if err != nil {
		return nil, apperr.Upstream("failed to fetch recipe page", err)
	}

	if found := fromJSONLD(doc); len(found) > 0 {
		return dedupe(found), nil
	}
	if found := collectText(doc.Find(`[itemprop="recipeIngredient"], [itemprop="ingredients"]`)); len(found) > 0 {
		return dedupe(found), nil
	}
	for _, sel := range pluginSelectors {
		if found := collectText(doc.Find(sel)); len(found) > 0 {
			return dedupe(found), nil
		}
	}

	if c.textGen == nil {
		return nil, nil
	}
	found, err := c.extractWithAI(ctx, cleanText(doc))
	if err != nil {
		return nil, apperr.Upstream("failed to extract ingredients", err)
	}
	return dedupe(found), nil
}

func (c *Clipper) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; mealboard/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 5<<20))
}

// fromJSONLD searches schema.org Recipe blocks for recipeIngredient.
func fromJSONLD(doc *goquery.Document) []string {
	var found []string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return true
		}
		found = findIngredients(v)
		return len(found) == 0
	})
	return found
}

func findIngredients(v any) []string {
	switch node := v.(type) {
	case map[string]any:
		if list, ok := node["recipeIngredient"].([]any); ok {
			var out []string
			for _, item := range list {
				if s, ok := item.(string); ok {
					if s = normalize(s); s != "" {
						out = append(out, s)
					}
				}
			}
			if len(out) > 0 {
				return out
			}
		}
		for _, child := range node {
			if out := findIngredients(child); len(out) > 0 {
				return out
			}
		}
	case []any:
		for _, child := range node {
			if out := findIngredients(child); len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func collectText(sel *goquery.Selection) []string {
	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := normalize(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// cleanText drops page chrome and returns the visible body text.
func cleanText(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, iframe, noscript, form, aside, .ads, #ads, .comments").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return truncate(text, maxPageText)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (c *Clipper) extractWithAI(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(`You are a recipe extraction expert. List the ingredients of the recipe in the
following page text, one entry per ingredient including its quantity.
Return the result strictly as a JSON array of strings, for example ["2 eggs", "1 dl milk"].
If the page contains no recipe, return [].

Page text:
%s`, text)

	start := time.Now()
	resp, err := c.textGen.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	if c.usage != nil {
		meta := llm.AgentMeta{AgentName: agentName, Usage: resp.Usage, Latency: latency}
		if err := c.usage.RecordMeta(ctx, meta); err != nil {
			c.logger.Warn("failed to record usage", zap.Error(err))
		}
	}

	found, err := parseIngredients(resp.Content)
	if err != nil {
		return nil, err
	}
	c.logger.Info("extracted ingredients with AI", zap.Int("count", len(found)), zap.Duration("latency", latency))
	return found, nil
}

// parseIngredients accepts a JSON array or an {"ingredients": [...]} object, optionally fenced.
func parseIngredients(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var list []string
	if err := json.Unmarshal([]byte(content), &list); err == nil {
		return normalizeAll(list), nil
	}
	var obj struct {
		Ingredients []string `json:"ingredients"`
	}
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w", err)
	}
	return normalizeAll(obj.Ingredients), nil
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = normalize(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// dedupe removes case-insensitive repeats, keeping the first occurrence.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
