// Package publish is the publishing collaborator: it promotes generated
// artifacts into a durable site tree, keeps drafts, and renders published
// articles to static HTML.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"autoblog/internal/docstore"
)

var ErrDraftNotFound = errors.New("draft not found")

type Service interface {
	PromoteAsset(ctx context.Context, path string) (string, error)
	CreateDraft(ctx context.Context, draft Draft) (string, error)
	Publish(ctx context.Context, draftID string) (Published, error)
}

type Draft struct {
	Title        string    `json:"title"`
	Summary      string    `json:"summary,omitempty"`
	Body         string    `json:"body"`
	Category     string    `json:"category,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Language     string    `json:"language,omitempty"`
	Images       []string  `json:"images,omitempty"`
	Audio        string    `json:"audio,omitempty"`
	AutomationID string    `json:"automation_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Published struct {
	DraftID     string    `json:"draft_id"`
	Slug        string    `json:"slug"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Source reads artifacts by the relative path they were stored under.
type Source interface {
	Open(rel string) (io.ReadCloser, error)
}

const (
	draftsDocument = "drafts"
	postsDocument  = "posts"
)

type draftsDoc struct {
	Drafts map[string]Draft `json:"drafts"`
}

type postsDoc struct {
	Posts []postRecord `json:"posts"`
}

type postRecord struct {
	Published
	Title        string `json:"title"`
	AutomationID string `json:"automation_id,omitempty"`
}

// SitePublisher writes a static site under Root: assets/ for promoted
// artifacts and posts/<slug>/index.html per article.
type SitePublisher struct {
	root    string
	baseURL string
	source  Source
	backend docstore.Backend
	md      goldmark.Markdown
	now     func() time.Time
}

func NewSitePublisher(root, baseURL string, source Source, backend docstore.Backend) *SitePublisher {
	return &SitePublisher{
		root:    root,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		source:  source,
		backend: backend,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:     time.Now,
	}
}

// PromoteAsset copies a generated artifact into assets/YYYY/MM and returns the
// site-relative permanent path.
func (p *SitePublisher) PromoteAsset(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.source == nil {
		return "", errors.New("no artifact source configured")
	}
	in, err := p.source.Open(rel)
	if err != nil {
		return "", fmt.Errorf("open artifact %q: %w", rel, err)
	}
	defer in.Close()

	now := p.now().UTC()
	permanent := path.Join("assets", now.Format("2006"), now.Format("01"), path.Base(rel))
	abs := filepath.Join(p.root, filepath.FromSlash(permanent))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy artifact %q: %w", rel, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return permanent, nil
}

func (p *SitePublisher) CreateDraft(ctx context.Context, draft Draft) (string, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return "", errors.New("draft title is required")
	}
	if strings.TrimSpace(draft.Body) == "" {
		return "", errors.New("draft body is required")
	}
	id := ulid.Make().String()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = p.now().UTC()
	}
	err := docstore.UpdateJSON(ctx, p.backend, draftsDocument, func(doc *draftsDoc) error {
		if doc.Drafts == nil {
			doc.Drafts = map[string]Draft{}
		}
		doc.Drafts[id] = draft
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save draft: %w", err)
	}
	return id, nil
}

func (p *SitePublisher) Publish(ctx context.Context, draftID string) (Published, error) {
	var drafts draftsDoc
	if _, err := docstore.ReadJSON(ctx, p.backend, draftsDocument, &drafts); err != nil {
		return Published{}, err
	}
	draft, ok := drafts.Drafts[draftID]
	if !ok {
		return Published{}, fmt.Errorf("%w: %s", ErrDraftNotFound, draftID)
	}

	var out Published
	err := docstore.UpdateJSON(ctx, p.backend, postsDocument, func(doc *postsDoc) error {
		taken := make(map[string]bool, len(doc.Posts))
		for _, post := range doc.Posts {
			taken[post.Slug] = true
		}
		slug := uniqueSlug(Slugify(draft.Title), taken)
		page, err := p.render(draft)
		if err != nil {
			return err
		}
		if err := p.writePage(slug, page); err != nil {
			return err
		}
		out = Published{
			DraftID:     draftID,
			Slug:        slug,
			URL:         p.baseURL + "/posts/" + slug + "/",
			PublishedAt: p.now().UTC(),
		}
		doc.Posts = append(doc.Posts, postRecord{Published: out, Title: draft.Title, AutomationID: draft.AutomationID})
		return nil
	})
	if err != nil {
		return Published{}, fmt.Errorf("publish draft %s: %w", draftID, err)
	}

	err = docstore.UpdateJSON(ctx, p.backend, draftsDocument, func(doc *draftsDoc) error {
		delete(doc.Drafts, draftID)
		return nil
	})
	if err != nil {
		return Published{}, fmt.Errorf("drop published draft: %w", err)
	}
	return out, nil
}

var pageTemplate = template.Must(template.New("post").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{- if .Summary}}
<meta name="description" content="{{.Summary}}">
{{- end}}
</head>
<body>
<article>
<h1>{{.Title}}</h1>
{{- if .Category}}
<p class="category">{{.Category}}</p>
{{- end}}
{{- if .Audio}}
<audio controls src="{{.Audio}}"></audio>
{{- end}}
{{.Body}}
{{- if .Tags}}
<ul class="tags">{{range .Tags}}<li>{{.}}</li>{{end}}</ul>
{{- end}}
</article>
</body>
</html>
`))

type pageData struct {
	Lang     string
	Title    string
	Summary  string
	Category string
	Audio    string
	Tags     []string
	Body     template.HTML
}

func (p *SitePublisher) render(d Draft) ([]byte, error) {
	var body bytes.Buffer
	if err := p.md.Convert([]byte(d.Body), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	lang := "en"
	if l := strings.ToLower(strings.TrimSpace(d.Language)); len(l) >= 2 && l != "english" {
		lang = l[:2]
	}
	audio := ""
	if d.Audio != "" {
		audio = "/" + strings.TrimPrefix(d.Audio, "/")
	}
	var out bytes.Buffer
	err := pageTemplate.Execute(&out, pageData{
		Lang:     lang,
		Title:    d.Title,
		Summary:  d.Summary,
		Category: d.Category,
		Audio:    audio,
		Tags:     d.Tags,
		Body:     template.HTML(body.String()),
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (p *SitePublisher) writePage(slug string, page []byte) error {
	dir := filepath.Join(p.root, "posts", slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(page); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, "index.html"))
}

// Slugify lowercases title and joins its letter and digit runs with '-'.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	if slug == "" {
		slug = "post"
	}
	return slug
}

func uniqueSlug(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}
