package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

type enrollRequest struct {
	FQDN         string `json:"fqdn" binding:"required"`
	Name         string `json:"name"`
	Capabilities string `json:"capabilities"`
}

func (s *Server) enrollResource(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var r *types.Resource
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		r, err = s.registry.Enroll(tx, registry.EnrollRequest{
			FQDN:         req.FQDN,
			Name:         req.Name,
			Capabilities: req.Capabilities,
		}, now())
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) listResources(c *gin.Context) {
	var resources []*types.Resource
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		resources, err = tx.ListResources(c.Query("include_deleted") == "true")
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resources)
}

func (s *Server) getResource(c *gin.Context) {
	var r *types.Resource
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		r, err = tx.GetResource(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) pingResource(c *gin.Context) {
	var r *types.Resource
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		r, err = s.registry.Heartbeat(tx, c.Param("id"), now())
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) detachResource(c *gin.Context) {
	err := s.store.Update(func(tx *storage.Txn) error {
		r, err := tx.GetResource(c.Param("id"))
		if err != nil {
			return err
		}
		if r.Deleted {
			return fmt.Errorf("resource %s: %w", r.ID, types.ErrGone)
		}
		return s.registry.Detach(tx, r)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
