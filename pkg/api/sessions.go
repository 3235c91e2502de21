package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

type createSessionRequest struct {
	ProcessID  string `json:"process_id" binding:"required"`
	Parameters string `json:"parameters"`
	Force      bool   `json:"force"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var sess *types.Session
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		sess, err = s.sessions.Create(tx, req.ProcessID, req.Parameters, req.Force)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if sess == nil {
		// A pending session already covers the process; nothing created.
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) listSessions(c *gin.Context) {
	var sessions []*types.Session
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		sessions, err = tx.ListSessions(c.Query("include_deleted") == "true")
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) getSession(c *gin.Context) {
	var sess *types.Session
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		sess, err = tx.GetSession(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// sessionByResource is the worker poll: 200 with the session when one is
// assigned, 204 when the resource has nothing to do.
func (s *Server) sessionByResource(c *gin.Context) {
	var sess *types.Session
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		sess, err = s.sessions.ByResource(tx, c.Param("resource_id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if sess == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type updateSessionStatusRequest struct {
	Status types.SessionStatus `json:"status" binding:"required"`
}

func (s *Server) updateSessionStatus(c *gin.Context) {
	var req updateSessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var sess *types.Session
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		sess, err = s.sessions.UpdateStatus(tx, c.Param("id"), req.Status)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) stopSession(c *gin.Context) {
	var sess *types.Session
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		sess, err = s.sessions.RequestStop(tx, c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
