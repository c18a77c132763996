package handlers

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"merlodigital/site/logging"
	"merlodigital/site/mailer"
	"merlodigital/site/models"
)

// ProjectLister returns the portfolio listing.
type ProjectLister interface {
	Fetch(ctx context.Context, force bool) []models.Project
}

type page struct {
	path        string
	template    string
	title       string
	description string
}

var sitePages = []page{
	{"/", "index.html", "Merlô Digital | Engenharia de Software e Sites",
		"Especialistas em desenvolvimento web de alta performance. Transformamos processos complexos em sistemas seguros e escaláveis."},
	{"/servicos", "servicos.html", "Serviços de Desenvolvimento Web - Merlô Digital",
		"Conheça nossas soluções em criação de sites, sistemas web, automação e dashboards administrativos personalizados."},
	{"/servicos/website", "servicos_website.html", "Criação de Sites Profissionais e Landing Pages | Merlô Digital",
		"Sites rápidos, otimizados para SEO e responsivos. Do site institucional básico até catálogos dinâmicos integrados ao Google Sheets."},
	{"/servicos/sistemas", "servicos_sistemas.html", "Desenvolvimento de Sistemas Web e ERPs | Merlô Digital",
		"Sistemas sob medida. Dashboards, controle de estoque, área de membros e automação de processos empresariais."},
}

const (
	portfolioTitle       = "Portfólio de Projetos - Merlô Digital"
	portfolioDescription = "Veja nossos casos de sucesso. Sites institucionais e sistemas complexos desenvolvidos para gerar resultados reais."
	contactTitle         = "Fale Conosco | Orçamento de Software"
	contactDescription   = "Entre em contato com a Merlô Digital. Atendimento via WhatsApp ou E-mail para tirar seu projeto do papel."
	termsTitle           = "Termos de Uso e Privacidade | Merlô Digital"
	termsDescription     = "Transparência total. Nossas políticas de privacidade, LGPD e termos de serviço."
)

// sitemapPaths are the pages listed in sitemap.xml, in order.
var sitemapPaths = []string{"/", "/servicos", "/servicos/website", "/servicos/sistemas", "/portfolio", "/contato"}

var contactEmail = template.Must(template.New("contact").Parse(`<h3>NOVA SOLICITAÇÃO DE CONTATO</h3>
<p><strong>Nome:</strong> {{.Name}}</p>
<p><strong>Empresa:</strong> {{.Company}}</p>
<p><strong>E-mail:</strong> {{.Email}}</p>
<hr>
<p><strong>Mensagem:</strong><br>{{.Message}}</p>
`))

// PageHandlers serves the public site.
type PageHandlers struct {
	HostURL     string
	Portfolio   ProjectLister
	Mailer      mailer.Mailer
	ContactFrom string
	ContactTo   []string
}

// Register mounts every page route on r. r must already have its HTML
// templates set.
func (h *PageHandlers) Register(r gin.IRoutes) {
	for _, p := range sitePages {
		r.GET(p.path, h.static(p))
	}
	terms := h.static(page{template: "termos.html", title: termsTitle, description: termsDescription})
	r.GET("/termos-e-privacidade", terms)
	r.GET("/termos&privacidade", terms)
	r.GET("/portfolio", h.PortfolioPage)
	r.GET("/contato", h.ContactForm)
	r.POST("/contato", h.ContactSubmit)
	r.GET("/sitemap.xml", h.Sitemap)
	r.GET("/robots.txt", h.Robots)
	r.GET("/healthz", Healthz)
}

func (h *PageHandlers) static(p page) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, p.template, gin.H{"title": p.title, "description": p.description})
	}
}

// PortfolioPage renders the cached project listing. Upstream failures degrade
// to stale or empty listings inside the cache, so this never fails.
func (h *PageHandlers) PortfolioPage(c *gin.Context) {
	var projects []models.Project
	if h.Portfolio != nil {
		projects = h.Portfolio.Fetch(c.Request.Context(), false)
	}
	c.HTML(http.StatusOK, "portfolio.html", gin.H{
		"title":       portfolioTitle,
		"description": portfolioDescription,
		"projects":    projects,
	})
}

func (h *PageHandlers) ContactForm(c *gin.Context) {
	c.HTML(http.StatusOK, "contato.html", gin.H{
		"title":       contactTitle,
		"description": contactDescription,
		"status":      c.Query("status"),
	})
}

// ContactSubmit mails the form to the site owner and redirects back to the
// form with ?status=ok or ?status=erro.
func (h *PageHandlers) ContactSubmit(c *gin.Context) {
	var req models.ContactRequest
	if err := c.ShouldBind(&req); err != nil {
		logging.Debug().Err(err).Msg("invalid contact form")
		c.Redirect(http.StatusSeeOther, "/contato?status=erro")
		return
	}

	var body bytes.Buffer
	if err := contactEmail.Execute(&body, req); err != nil {
		logging.Error().Err(err).Msg("failed to render contact email")
		c.Redirect(http.StatusSeeOther, "/contato?status=erro")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	err := h.Mailer.Send(ctx, mailer.Message{
		From:    h.ContactFrom,
		To:      h.ContactTo,
		Subject: fmt.Sprintf("Novo Lead MERLÔ: %s - %s", req.Name, req.Company),
		HTML:    body.String(),
	})
	if err != nil {
		logging.Error().Err(err).Str("email", req.Email).Msg("failed to send contact email")
		c.Redirect(http.StatusSeeOther, "/contato?status=erro")
		return
	}
	logging.Info().Str("email", req.Email).Msg("contact request sent")
	c.Redirect(http.StatusSeeOther, "/contato?status=ok")
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

func (h *PageHandlers) Sitemap(c *gin.Context) {
	host := strings.TrimRight(h.HostURL, "/")
	set := urlSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for _, p := range sitemapPaths {
		priority := "0.8"
		if p == "/" {
			priority = "1.0"
		}
		set.URLs = append(set.URLs, sitemapURL{Loc: host + p, ChangeFreq: "monthly", Priority: priority})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/xml", append([]byte(xml.Header), out...))
}

func (h *PageHandlers) Robots(c *gin.Context) {
	lines := []string{"User-agent: *", "Disallow: ", "Sitemap: " + strings.TrimRight(h.HostURL, "/") + "/sitemap.xml"}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(strings.Join(lines, "\n")))
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
