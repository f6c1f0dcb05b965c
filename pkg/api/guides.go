package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"guidekit/pkg/persistence"
)

func (s *Server) submitGuide(c *gin.Context) {
	var in struct {
		URL          string `json:"url"`
		ForceRefresh bool   `json:"forceRefresh"`
	}
	if !s.bind(c, &in) {
		return
	}
	res, err := s.svc.Docs.Submit(c.Request.Context(), userID(c), in.URL, in.ForceRefresh)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created || res.Refreshed {
		status = http.StatusAccepted
	}
	ok(c, status, res)
}

func (s *Server) listGuides(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		s.fail(c, err)
		return
	}
	list, err := s.svc.Docs.List(c.Request.Context(), persistence.GuideFilter{
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) getGuide(c *gin.Context) {
	g, err := s.svc.Docs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, g)
}

func (s *Server) deleteGuide(c *gin.Context) {
	if err := s.svc.Docs.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) searchGuide(c *gin.Context) {
	k, err := queryInt(c, "k")
	if err != nil {
		s.fail(c, err)
		return
	}
	matches, err := s.svc.Docs.Search(c.Request.Context(), c.Param("id"), c.Query("q"), k)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, matches)
}

func (s *Server) chatGuide(c *gin.Context) {
	var in struct {
		Question string `json:"question"`
		Stream   bool   `json:"stream"`
	}
	if !s.bind(c, &in) {
		return
	}
	ctx := c.Request.Context()

	if !in.Stream {
		answer, err := s.svc.Docs.Chat(ctx, userID(c), c.Param("id"), in.Question)
		if err != nil {
			s.fail(c, err)
			return
		}
		ok(c, http.StatusOK, answer)
		return
	}

	answer, err := s.svc.Docs.ChatStream(ctx, userID(c), c.Param("id"), in.Question, func(delta string) error {
		if !c.Writer.Written() {
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Accel-Buffering", "no")
		}
		c.SSEvent("delta", gin.H{"content": delta})
		c.Writer.Flush()
		return ctx.Err()
	})
	if err != nil {
		if !c.Writer.Written() {
			s.fail(c, err)
			return
		}
		_, msg := statusOf(err)
		s.logger.Warn("Chat stream for guide %s ended early: %v", c.Param("id"), err)
		c.SSEvent("error", gin.H{"error": msg})
		c.Writer.Flush()
		return
	}
	c.SSEvent("done", answer)
	c.Writer.Flush()
}

func (s *Server) guideMessages(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}
	list, err := s.svc.Docs.Messages(c.Request.Context(), userID(c), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}
