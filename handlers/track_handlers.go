package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"merlodigital/site/logging"
	"merlodigital/site/models"
	"merlodigital/site/tracker"
	"merlodigital/site/utils"
)

// CookieOptions controls the visitor identity cookie.
type CookieOptions struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

type TrackHandlers struct {
	Tracker *tracker.Tracker
	Cookie  CookieOptions
}

func NewTrackHandlers(t *tracker.Tracker, cookie CookieOptions) *TrackHandlers {
	return &TrackHandlers{Tracker: t, Cookie: cookie}
}

// TrackClick buffers one click from the site's tracker script. It always
// answers 200: filtered clicks are reported, not rejected, and a missing or
// malformed body falls back to the click defaults.
func (h *TrackHandlers) TrackClick(c *gin.Context) {
	var req models.TrackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logging.Debug().Err(err).Msg("unreadable track-click body, using defaults")
		req = models.TrackClickRequest{}
	}

	token, _ := c.Cookie(h.Cookie.Name)
	res := h.Tracker.Track(tracker.Click{
		TrackClickRequest: req,
		UserAgent:         c.GetHeader("User-Agent"),
		IP:                utils.ClientIP(c.Request),
		Token:             token,
		Referrer:          c.GetHeader("Referer"),
	})

	if res.Status == tracker.StatusIgnored {
		c.JSON(http.StatusOK, gin.H{"status": res.Status, "motivo": res.Reason})
		return
	}

	if res.Token != "" {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     h.Cookie.Name,
			Value:    res.Token,
			Path:     "/",
			MaxAge:   int(h.Cookie.MaxAge.Seconds()),
			HttpOnly: true,
			Secure:   h.Cookie.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	body := gin.H{"status": res.Status, "novo_visitante": res.NewVisitor}
	if res.Status == tracker.StatusAccumulating {
		body["qtd"] = res.Pending
	}
	c.JSON(http.StatusOK, body)
}

// CronJob is the external heartbeat: it flushes pending clicks or, when
// there are none, refreshes the portfolio cache.
func (h *TrackHandlers) CronJob(c *gin.Context) {
	logging.Info().Int("pending", h.Tracker.Pending()).Msg("cron job triggered")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	res, err := h.Tracker.Maintain(ctx, tracker.ReasonPeriodic)
	if err != nil {
		if errors.Is(err, tracker.ErrQueueFull) {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "erro", "acao": res.Action, "qtd": res.Events})
			return
		}
		logging.Error().Err(err).Msg("cron job failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "erro", "acao": res.Action})
		return
	}

	switch res.Action {
	case tracker.ActionDispatched:
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"acao":   res.Action,
			"qtd":    res.Events,
			"msg":    "Envio de e-mail iniciado em segundo plano.",
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":              "ok",
			"acao":                res.Action,
			"msg":                 "Sem cliques para enviar. Cache de portfólio renovado.",
			"projetos_carregados": res.Projects,
		})
	}
}
