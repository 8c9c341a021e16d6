// Package markup turns article bodies into html and derives the bits of an
// article computed from it: excerpt, embedded code languages, permalink.
package markup

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/models"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/unicode/norm"
)

const excerptWords = 68

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)
	commentPolicy = bluemonday.UGCPolicy()

	tagPattern       = regexp.MustCompile(`(?s)<[^>]*>`)
	codeLangPattern  = regexp.MustCompile(`(?i)(?:class="[^"]*?(?:language-|lang-|brush:\s*)([a-z0-9+#_-]+)[^"]*"|\blang="([a-z0-9+#_-]+)")`)
	slugStripPattern = regexp.MustCompile(`[^a-z0-9]+`)
	blankLine        = regexp.MustCompile(`\n\s*\n`)
)

// Render converts body written in format into html.
func Render(format, body string) (string, error) {
	switch format {
	case models.FormatHTML:
		return body, nil
	case models.FormatMarkdown:
		var buf bytes.Buffer
		if err := md.Convert([]byte(body), &buf); err != nil {
			return "", apperr.Wrap(err, apperr.ErrBadRequest, "markdown conversion failed")
		}
		return buf.String(), nil
	case models.FormatTextile:
		return Textile(body), nil
	case models.FormatText:
		return Text(body), nil
	}
	return "", apperr.Newf(apperr.ErrValidation, "unknown format %q", format)
}

// Text escapes plain text and splits it into paragraphs on blank lines.
func Text(body string) string {
	var out strings.Builder
	for _, para := range paragraphs(body) {
		lines := strings.Split(para, "\n")
		for i := range lines {
			lines[i] = html.EscapeString(lines[i])
		}
		out.WriteString("<p>")
		out.WriteString(strings.Join(lines, "<br />\n"))
		out.WriteString("</p>\n")
	}
	return out.String()
}

func paragraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out []string
	for _, p := range blankLine.Split(body, -1) {
		if p = strings.Trim(p, "\n "); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Excerpt summarizes an article: the explicit excerpt if set, otherwise the
// first words of its html with the tags stripped.
func Excerpt(a models.Article) string {
	if strings.TrimSpace(a.Excerpt) != "" {
		return a.Excerpt
	}
	return FirstWords(StripTags(a.HTML), excerptWords)
}

// StripTags removes html tags, unescapes entities and collapses runs of
// whitespace into single spaces.
func StripTags(s string) string {
	text := html.UnescapeString(tagPattern.ReplaceAllString(s, " "))
	return strings.Join(strings.Fields(text), " ")
}

// FirstWords returns the first n words of s, with an ellipsis if cut.
func FirstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}

// EmbeddedCode lists, in order of appearance, the languages of code blocks
// marked with class="language-x", class="brush: x" or lang="x".
func EmbeddedCode(htmlBody string) []string {
	var langs []string
	seen := map[string]struct{}{}
	for _, m := range codeLangPattern.FindAllStringSubmatch(htmlBody, -1) {
		lang := strings.ToLower(m[1] + m[2])
		if _, ok := seen[lang]; ok || lang == "" {
			continue
		}
		seen[lang] = struct{}{}
		langs = append(langs, lang)
	}
	return langs
}

// SanitizeComment strips everything but safe user-generated markup.
func SanitizeComment(body string) string {
	return strings.TrimSpace(commentPolicy.Sanitize(body))
}

// Slugify makes a url-safe, accent-free slug out of a title.
func Slugify(title string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(title)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	slug := strings.Trim(slugStripPattern.ReplaceAllString(b.String(), "-"), "-")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}

// Permalink builds the default "YYYY/MM/slug" permalink.
func Permalink(published time.Time, title string) string {
	return fmt.Sprintf("%04d/%02d/%s", published.Year(), int(published.Month()), Slugify(title))
}
