package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"guidekit/pkg/prd"
)

func (s *Server) prdQuestions(c *gin.Context) {
	var in struct {
		Idea string `json:"idea"`
	}
	if !s.bind(c, &in) {
		return
	}
	questions, err := s.svc.PRDs.GenerateQuestions(c.Request.Context(), userID(c), in.Idea)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"questions": questions})
}

func (s *Server) generatePRD(c *gin.Context) {
	var in prd.GenerateInput
	if !s.bind(c, &in) {
		return
	}
	doc, err := s.svc.PRDs.Generate(c.Request.Context(), userID(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, doc)
}

func (s *Server) listPRDs(c *gin.Context) {
	list, err := s.svc.PRDs.List(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) getPRD(c *gin.Context) {
	doc, err := s.svc.PRDs.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, doc)
}

func (s *Server) updatePRD(c *gin.Context) {
	var in prd.UpdateInput
	if !s.bind(c, &in) {
		return
	}
	doc, err := s.svc.PRDs.Update(c.Request.Context(), userID(c), c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, doc)
}

func (s *Server) deletePRD(c *gin.Context) {
	if err := s.svc.PRDs.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) exportPRD(c *gin.Context) {
	name, body, err := s.svc.PRDs.Export(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	attachment(c, name, "text/markdown; charset=utf-8", body)
}
