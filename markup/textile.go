package markup

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	textileHeading = regexp.MustCompile(`^h([1-6])\.\s+(.*)$`)
	textileQuote   = regexp.MustCompile(`^bq\.\s+(.*)$`)
	textileList    = regexp.MustCompile(`^([*#])\s+(.*)$`)
	textileLink    = regexp.MustCompile(`"([^"]+)":(https?://[^\s<]+[^\s<.,;:!?)])`)
	textileStrong  = regexp.MustCompile(`(^|[\s(>])\*([^*\s][^*]*?)\*`)
	textileEm      = regexp.MustCompile(`(^|[\s(>])_([^_\s][^_]*?)_`)
	textileCode    = regexp.MustCompile(`@([^@\n]+)@`)
	preBlock       = regexp.MustCompile(`(?s)<pre[^>]*>.*?</pre>`)
	prePlaceholder = regexp.MustCompile("\x00pre[0-9]+\x00")
)

// Textile renders the subset of Textile used by old Bloog posts: headings,
// block quotes, bullet and numbered lists, *strong*, _em_, @code@ and
// "text":url links. <pre> blocks pass through untouched.
func Textile(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var pres []string
	body = preBlock.ReplaceAllStringFunc(body, func(m string) string {
		pres = append(pres, m)
		return "\x00pre" + strconv.Itoa(len(pres)-1) + "\x00"
	})

	var out strings.Builder
	for _, block := range paragraphs(body) {
		if prePlaceholder.MatchString(block) && prePlaceholder.FindString(block) == block {
			out.WriteString(block + "\n")
			continue
		}
		out.WriteString(textileBlock(block))
	}
	return prePlaceholder.ReplaceAllStringFunc(out.String(), func(m string) string {
		i, _ := strconv.Atoi(strings.Trim(m, "\x00pre"))
		return pres[i]
	})
}

func textileBlock(block string) string {
	lines := strings.Split(block, "\n")
	first := strings.TrimSpace(lines[0])

	if m := textileHeading.FindStringSubmatch(first); m != nil && len(lines) == 1 {
		return "<h" + m[1] + ">" + textileInline(m[2]) + "</h" + m[1] + ">\n"
	}
	if m := textileQuote.FindStringSubmatch(first); m != nil {
		rest := append([]string{m[1]}, lines[1:]...)
		return "<blockquote><p>" + textileLines(rest) + "</p></blockquote>\n"
	}
	if textileList.MatchString(first) && allMatch(lines, textileList) {
		tag := "ul"
		if strings.HasPrefix(first, "#") {
			tag = "ol"
		}
		var b strings.Builder
		b.WriteString("<" + tag + ">\n")
		for _, l := range lines {
			m := textileList.FindStringSubmatch(strings.TrimSpace(l))
			b.WriteString("<li>" + textileInline(m[2]) + "</li>\n")
		}
		b.WriteString("</" + tag + ">\n")
		return b.String()
	}
	if strings.HasPrefix(first, "<") {
		// raw html block
		return block + "\n"
	}
	return "<p>" + textileLines(lines) + "</p>\n"
}

func allMatch(lines []string, re *regexp.Regexp) bool {
	for _, l := range lines {
		if !re.MatchString(strings.TrimSpace(l)) {
			return false
		}
	}
	return true
}

func textileLines(lines []string) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = textileInline(strings.TrimSpace(l))
	}
	return strings.Join(out, "<br />\n")
}

func textileInline(s string) string {
	s = html.EscapeString(s)
	// EscapeString turns quotes into &#34;, links need them back.
	s = strings.ReplaceAll(s, "&#34;", `"`)
	s = textileCode.ReplaceAllString(s, "<code>$1</code>")
	s = textileLink.ReplaceAllString(s, `<a href="$2">$1</a>`)
	s = textileStrong.ReplaceAllString(s, "$1<strong>$2</strong>")
	s = textileEm.ReplaceAllString(s, "$1<em>$2</em>")
	return s
}
