package api

import (
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"guidekit/pkg/rules"
)

func (s *Server) ruleTargets(c *gin.Context) {
	ok(c, http.StatusOK, rules.Targets)
}

func (s *Server) generateRules(c *gin.Context) {
	var in rules.GenerateInput
	if !s.bind(c, &in) {
		return
	}
	rs, err := s.svc.Rules.Generate(c.Request.Context(), userID(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, rs)
}

func (s *Server) listRules(c *gin.Context) {
	list, err := s.svc.Rules.List(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) getRules(c *gin.Context) {
	rs, err := s.svc.Rules.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, rs)
}

func (s *Server) deleteRules(c *gin.Context) {
	if err := s.svc.Rules.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) downloadRules(c *gin.Context) {
	name, body, err := s.svc.Rules.Download(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	contentType := "text/plain; charset=utf-8"
	if strings.HasSuffix(name, ".md") {
		contentType = "text/markdown; charset=utf-8"
	}
	attachment(c, name, contentType, body)
}

func attachment(c *gin.Context, name, contentType string, body []byte) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Data(http.StatusOK, contentType, body)
}
