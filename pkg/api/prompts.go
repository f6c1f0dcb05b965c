package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"guidekit/pkg/persistence"
	"guidekit/pkg/prompts"
)

func (s *Server) listPrompts(c *gin.Context) {
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
	list, err := s.svc.Prompts.List(c.Request.Context(), userID(c), persistence.PromptFilter{
		Scope:    c.Query("scope"),
		Category: c.Query("category"),
		Tag:      c.Query("tag"),
		Query:    c.Query("q"),
		Sort:     c.Query("sort"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) promptCategories(c *gin.Context) {
	ok(c, http.StatusOK, prompts.Categories)
}

func (s *Server) createPrompt(c *gin.Context) {
	var in prompts.Input
	if !s.bind(c, &in) {
		return
	}
	p, err := s.svc.Prompts.Create(c.Request.Context(), userID(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

func (s *Server) getPrompt(c *gin.Context) {
	p, err := s.svc.Prompts.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) updatePrompt(c *gin.Context) {
	var in prompts.Input
	if !s.bind(c, &in) {
		return
	}
	p, err := s.svc.Prompts.Update(c.Request.Context(), userID(c), c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) deletePrompt(c *gin.Context) {
	if err := s.svc.Prompts.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) usePrompt(c *gin.Context) {
	count, err := s.svc.Prompts.RecordUse(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"useCount": count})
}

func (s *Server) favoritePrompt(favorite bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.svc.Prompts.SetFavorite(c.Request.Context(), userID(c), c.Param("id"), favorite); err != nil {
			s.fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"favorite": favorite})
	}
}

func (s *Server) enhancePrompt(c *gin.Context) {
	var in prompts.EnhanceInput
	if !s.bind(c, &in) {
		return
	}
	e, err := s.svc.Prompts.Enhance(c.Request.Context(), userID(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}
