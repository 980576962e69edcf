// Package render turns verdicts and previews into the single page of the
// front-end. A Context is built once at startup and handed to every view.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/preview"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const PageTemplate = "page"

type Context struct {
	Title     string
	Icon      string
	templates *template.Template
}

func NewContext(title, icon string) (*Context, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"noun":  func(m model.MediaType) string { return m.Noun() },
		"upper": strings.ToUpper,
		"join":  strings.Join,
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, xerrors.Errorf("parsing templates: %w", err)
	}

	return &Context{
		Title:     title,
		Icon:      icon,
		templates: tmpl,
	}, nil
}

// Templates exposes the parsed set so an HTTP router can own the rendering.
func (c *Context) Templates() *template.Template {
	return c.templates
}

func (c *Context) Page(w io.Writer, data PageData) error {
	return c.templates.ExecuteTemplate(w, PageTemplate, data)
}

// Card is the visual form of a successful verdict.
type Card struct {
	Noun           string
	Class          string
	Icon           string
	Label          string
	Score          string
	Indicator      float64
	IndicatorStyle template.CSS
}

// CardFor maps a verdict to its card. Failed verdicts have no card.
func CardFor(media model.MediaType, v model.Verdict) (Card, bool) {
	if v.Failed() {
		return Card{}, false
	}

	card := Card{
		Noun:      media.Noun(),
		Class:     "result-fake",
		Icon:      "❌",
		Label:     strings.ToUpper(v.Label),
		Score:     fmt.Sprintf("%.2f", v.Score),
		Indicator: v.Score * 100,
	}
	if v.Real() {
		card.Class = "result-real"
		card.Icon = "✅"
	}
	card.IndicatorStyle = template.CSS(fmt.Sprintf("left: %.2f%%;", card.Indicator))

	return card, true
}

type PreviewView struct {
	Media    model.MediaType
	FileName string
	Caption  string
	Source   template.URL
	Details  string
}

func PreviewFor(p preview.Preview) *PreviewView {
	view := &PreviewView{
		Media:    p.Media,
		FileName: p.FileName,
		Caption:  p.Caption,
		// data: URIs built by the preview package from validated uploads
		Source: template.URL(p.Source),
	}

	switch {
	case p.Image != nil:
		view.Details = fmt.Sprintf("%d×%d px", p.Image.Width, p.Image.Height)
	case p.Video != nil:
		view.Details = fmt.Sprintf("%d frames at %.1f fps (%s)", p.Video.Frames, p.Video.FPS, p.Video.Duration.Round(100*time.Millisecond))
	default:
		view.Details = fmt.Sprintf("%d bytes", p.Size)
	}

	return view
}

type PageData struct {
	Title            string
	Icon             string
	Media            model.MediaType
	MediaTypes       []model.MediaType
	Options          model.MediaOptions
	Accept           string
	Request          model.DetectionRequest
	MissingArtifacts []string
	Preview          *PreviewView
	Card             *Card
	Error            string
}

// NewPage fills the parts of the page every view shares.
func (c *Context) NewPage(opts model.MediaOptions, req model.DetectionRequest, missing []string) PageData {
	return PageData{
		Title:            c.Title,
		Icon:             c.Icon,
		Media:            opts.Media,
		MediaTypes:       model.MediaTypes,
		Options:          opts,
		Accept:           preview.Accept(opts),
		Request:          req,
		MissingArtifacts: missing,
	}
}

// WithVerdict places either the card or the failure message on the page.
func (p PageData) WithVerdict(v model.Verdict) PageData {
	if card, ok := CardFor(p.Media, v); ok {
		p.Card = &card
		p.Error = ""
		return p
	}
	p.Card = nil
	p.Error = v.Message
	return p
}
