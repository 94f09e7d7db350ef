package clipper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// maxIngredients caps how many ingredient lines end up in a clipped description.
const maxIngredients = 15

var ErrNothingFound = errors.New("no meal content found on page")

// Clipper turns a recipe or menu page into a free-text meal description.
type Clipper struct {
	httpClient *http.Client
}

// Clip is what the clipper extracted from a page.
type Clip struct {
	URL         string
	Title       string
	Ingredients []string
}

// NewClipper creates a new Clipper instance.
func NewClipper(httpClient *http.Client) *Clipper {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Clipper{httpClient: httpClient}
}

// Description renders the clip as a meal description suitable for analysis.
func (c Clip) Description() string {
	if len(c.Ingredients) == 0 {
		return c.Title
	}
	return fmt.Sprintf("%s: %s", c.Title, strings.Join(c.Ingredients, ", "))
}

// ClipURL fetches the URL and extracts the dish title and its ingredient lines.
func (c *Clipper) ClipURL(ctx context.Context, url string) (Clip, error) {
	doc, err := c.fetchDocument(ctx, url)
	if err != nil {
		return Clip{}, fmt.Errorf("failed to fetch content: %w", err)
	}

	clip := Clip{
		URL:         url,
		Title:       extractTitle(doc),
		Ingredients: extractIngredients(doc),
	}
	if clip.Title == "" && len(clip.Ingredients) == 0 {
		return Clip{}, ErrNothingFound
	}
	if clip.Title == "" {
		clip.Title = "Clipped meal"
	}
	return clip, nil
}

func (c *Clipper) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	doc.Find("script, style, nav, footer, iframe, ads, .ads, #ads").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	return doc, nil
}

func extractTitle(doc *goquery.Document) string {
	if h1 := cleanText(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if og = cleanText(og); og != "" {
			return og
		}
	}
	return cleanText(doc.Find("title").First().Text())
}

func extractIngredients(doc *goquery.Document) []string {
	sel := doc.Find(`[itemprop="recipeIngredient"], [class*="ingredient"] li, li[class*="ingredient"]`)
	seen := make(map[string]bool)
	var out []string
	sel.EachWithBreak(func(i int, s *goquery.Selection) bool {
		line := cleanText(s.Text())
		if line == "" || seen[line] {
			return true
		}
		seen[line] = true
		out = append(out, line)
		return len(out) < maxIngredients
	})
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
