package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	srdomain "github.com/octue/twined-server/internal/servicerevision/domain"
)

type registerServiceRevisionRequest struct {
	RevisionTag string `json:"revision_tag"`
	IsDefault   bool   `json:"is_default"`
	Project     string `json:"project"`
}

type serviceRevisionResponse struct {
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	RevisionTag string `json:"revision_tag"`
	IsDefault   bool   `json:"is_default"`
}

// GetServiceRevision returns one revision. Without a tag the default
// revision is returned, falling back to the latest semantic version when no
// default is flagged.
func (s *Server) GetServiceRevision(c *gin.Context) {
	namespace := c.Param("namespace")
	name := c.Param("name")
	tag := c.Param("tag")

	var (
		revision *srdomain.ServiceRevision
		err      error
	)
	if tag != "" {
		revision, err = s.registry.Get(c.Request.Context(), namespace, name, tag)
	} else {
		revision, err = s.registry.SelectDefault(c.Request.Context(), namespace, name)
		if errors.Is(err, srdomain.ErrNotFound) {
			revision, err = s.registry.SelectLatest(c.Request.Context(), namespace, name)
		}
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, serviceRevisionResponse{
		Namespace:   revision.Namespace,
		Name:        revision.Name,
		RevisionTag: revision.Tag,
		IsDefault:   revision.IsDefault,
	})
}

// RegisterServiceRevision creates a revision for the addressed service.
func (s *Server) RegisterServiceRevision(c *gin.Context) {
	var req registerServiceRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.RevisionTag) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	_, err := s.registry.Register(c.Request.Context(), srdomain.RegisterRequest{
		Namespace: c.Param("namespace"),
		Name:      c.Param("name"),
		Tag:       strings.TrimSpace(req.RevisionTag),
		IsDefault: req.IsDefault,
		Project:   strings.TrimSpace(req.Project),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}
