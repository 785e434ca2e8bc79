package runner

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"autoblog/internal/automation"
)

const (
	// SummaryLimit bounds the narrated summary, in characters.
	SummaryLimit     = 600
	excerptLimit     = 300
	summarySourceCap = 4000
)

type Article struct {
	Title   string
	Summary string
	Body    string
}

// ParseArticle splits a model response on leading Title:, Summary: and Body:
// markers. Without markers the whole response is the body. Title and summary
// run until the next blank line; unmarked text after them belongs to the
// body.
func ParseArticle(text string) Article {
	var title, summary, body []string
	section := ""
	sawMarker := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if key, rest, ok := articleMarker(line); ok {
			sawMarker = true
			section = key
			if rest != "" {
				switch key {
				case "title":
					title = append(title, rest)
				case "summary":
					summary = append(summary, rest)
				default:
					body = append(body, rest)
				}
			}
			continue
		}
		blank := strings.TrimSpace(line) == ""
		switch section {
		case "title":
			if blank {
				if len(title) > 0 {
					section = ""
				}
				continue
			}
			title = append(title, strings.TrimSpace(line))
		case "summary":
			if blank {
				if len(summary) > 0 {
					section = ""
				}
				continue
			}
			summary = append(summary, strings.TrimSpace(line))
		default:
			body = append(body, line)
		}
	}
	if !sawMarker {
		return Article{Body: strings.TrimSpace(text)}
	}
	return Article{
		Title:   cleanTitle(strings.Join(title, " ")),
		Summary: strings.TrimSpace(strings.Join(summary, " ")),
		Body:    strings.TrimSpace(strings.Join(body, "\n")),
	}
}

func articleMarker(line string) (key, rest string, ok bool) {
	trimmed := strings.TrimLeft(line, "#* \t")
	lower := strings.ToLower(trimmed)
	for _, k := range []string{"title", "summary", "body"} {
		if !strings.HasPrefix(lower, k) {
			continue
		}
		after := strings.TrimLeft(trimmed[len(k):], "* ")
		if !strings.HasPrefix(after, ":") {
			return "", "", false
		}
		return k, strings.TrimSpace(strings.TrimLeft(after[1:], "* ")), true
	}
	return "", "", false
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*#\"' ")
	return strings.TrimSpace(s)
}

// Paragraphs splits Markdown on blank lines, dropping empty blocks.
func Paragraphs(body string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if b := strings.TrimSpace(block); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Excerpts picks n prose paragraphs spread evenly over body, reusing
// paragraphs when there are fewer than n.
func Excerpts(body string, n int) []string {
	if n <= 0 {
		return nil
	}
	var prose []string
	for _, p := range Paragraphs(body) {
		if strings.HasPrefix(p, "#") || strings.HasPrefix(p, "![") {
			continue
		}
		prose = append(prose, p)
	}
	if len(prose) == 0 {
		prose = []string{strings.TrimSpace(body)}
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, TruncateRunes(prose[i*len(prose)/n], excerptLimit))
	}
	return out
}

type figure struct {
	Path string
	Alt  string
}

// assembleBody interleaves figures between body paragraphs, spreading them
// evenly and never placing one before the first paragraph.
func assembleBody(body string, figures []figure) string {
	if len(figures) == 0 {
		return strings.TrimSpace(body)
	}
	paras := Paragraphs(body)
	after := make(map[int][]figure, len(figures))
	for i, f := range figures {
		idx := (i + 1) * len(paras) / (len(figures) + 1)
		if idx >= len(paras) {
			idx = len(paras) - 1
		}
		if idx > 0 {
			idx--
		}
		after[idx] = append(after[idx], f)
	}
	var b strings.Builder
	for i, p := range paras {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
		for _, f := range after[i] {
			fmt.Fprintf(&b, "\n\n![%s](/%s)", markdownAlt(f.Alt), strings.TrimPrefix(f.Path, "/"))
		}
	}
	return b.String()
}

func markdownAlt(s string) string {
	return strings.NewReplacer("[", "", "]", "", "\n", " ").Replace(s)
}

// TruncateRunes cuts s to at most limit characters, preferring a word
// boundary in the last quarter.
func TruncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)[:limit]
	cut := string(runes)
	if i := strings.LastIndexAny(cut, " \n\t"); i > 0 && utf8.RuneCountInString(cut[:i]) >= limit*3/4 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func articleTags(settings automation.Settings, entry automation.Entry) []string {
	seen := map[string]bool{}
	var out []string
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, tag)
	}
	for _, t := range settings.Tags {
		add(t)
	}
	add(entry.Festival)
	add("automation")
	return out
}

func articlePrompt(settings automation.Settings, entry automation.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a blog article in %s about: %s\n", settings.Language, entry.Topic)
	if entry.Festival != "" {
		fmt.Fprintf(&b, "Occasion: %s\n", entry.Festival)
	}
	if settings.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", settings.Category)
	}
	b.WriteString("\nRespond in exactly this format:\n")
	b.WriteString("Title: <a concise headline>\n")
	b.WriteString("Summary: <one or two sentences>\n")
	b.WriteString("Body:\n<the article in Markdown, four to six paragraphs, without the headline>\n")
	return b.String()
}

const articleSystem = "You write clear, well-structured blog articles for a general audience."

func summaryPrompt(settings automation.Settings, a Article) string {
	return fmt.Sprintf(
		"Write a short spoken summary of the article below for narration in %s. "+
			"Use plain sentences, no markup, under 90 words.\n\nTitle: %s\n\n%s",
		settings.Language, a.Title, TruncateRunes(a.Body, summarySourceCap),
	)
}

func imagePrompt(title, excerpt string) string {
	return fmt.Sprintf("Editorial illustration for a blog article titled %q. Scene: %s. No text or lettering in the image.", title, excerpt)
}
