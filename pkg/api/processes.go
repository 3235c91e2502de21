package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/trigger"
	"github.com/droverd/drover/pkg/types"
)

type processRequest struct {
	Name               string           `json:"name" binding:"required"`
	Description        string           `json:"description"`
	Requirements       string           `json:"requirements"`
	TargetType         types.TargetType `json:"target_type"`
	TargetSource       string           `json:"target_source"`
	TargetCredentialID string           `json:"target_credential_id"`
	CredentialID       string           `json:"credential_id"`
	WorkqueueID        string           `json:"workqueue_id"`
}

func (s *Server) createProcess(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	p := &types.Process{
		Name:               req.Name,
		Description:        req.Description,
		Requirements:       req.Requirements,
		TargetType:         req.TargetType,
		TargetSource:       req.TargetSource,
		TargetCredentialID: req.TargetCredentialID,
		CredentialID:       req.CredentialID,
		WorkqueueID:        req.WorkqueueID,
	}
	err := s.store.Update(func(tx *storage.Txn) error {
		return tx.CreateProcess(p)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) listProcesses(c *gin.Context) {
	var processes []*types.Process
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		processes, err = tx.ListProcesses(c.Query("include_deleted") == "true")
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, processes)
}

func (s *Server) getProcess(c *gin.Context) {
	var p *types.Process
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		p, err = tx.GetProcess(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) updateProcess(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var p *types.Process
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		p, err = tx.GetProcess(c.Param("id"))
		if err != nil {
			return err
		}
		if p.Deleted {
			return fmt.Errorf("process %s: %w", p.ID, types.ErrGone)
		}

		p.Name = req.Name
		p.Description = req.Description
		p.Requirements = req.Requirements
		p.TargetType = req.TargetType
		p.TargetSource = req.TargetSource
		p.TargetCredentialID = req.TargetCredentialID
		p.CredentialID = req.CredentialID
		p.WorkqueueID = req.WorkqueueID
		return tx.UpdateProcess(p)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) deleteProcess(c *gin.Context) {
	err := s.store.Update(func(tx *storage.Txn) error {
		return tx.DeleteProcess(c.Param("id"))
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) createTrigger(c *gin.Context) {
	var trg types.Trigger
	if err := c.ShouldBindJSON(&trg); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}
	trg.ID = ""
	trg.LastTriggered = nil
	trg.Deleted = false

	if err := trigger.Validate(&trg); err != nil {
		writeError(c, err)
		return
	}

	err := s.store.Update(func(tx *storage.Txn) error {
		p, err := tx.GetProcess(trg.ProcessID)
		if err != nil {
			return err
		}
		if p.Deleted {
			return fmt.Errorf("process %s: %w", p.ID, types.ErrGone)
		}
		return tx.CreateTrigger(&trg)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &trg)
}

func (s *Server) listTriggers(c *gin.Context) {
	var triggers []*types.Trigger
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		if processID := c.Query("process_id"); processID != "" {
			triggers, err = tx.TriggersByProcess(processID)
		} else {
			triggers, err = tx.ListTriggers(c.Query("include_deleted") == "true")
		}
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, triggers)
}

func (s *Server) getTrigger(c *gin.Context) {
	var trg *types.Trigger
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		trg, err = tx.GetTrigger(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trg)
}

func (s *Server) updateTrigger(c *gin.Context) {
	var incoming types.Trigger
	if err := c.ShouldBindJSON(&incoming); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var trg *types.Trigger
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		trg, err = tx.GetTrigger(c.Param("id"))
		if err != nil {
			return err
		}
		if trg.Deleted {
			return fmt.Errorf("trigger %s: %w", trg.ID, types.ErrGone)
		}

		trg.Type = incoming.Type
		trg.Cron = incoming.Cron
		trg.Date = incoming.Date
		trg.WorkqueueID = incoming.WorkqueueID
		trg.WorkqueueScaleUpThreshold = incoming.WorkqueueScaleUpThreshold
		trg.WorkqueueResourceLimit = incoming.WorkqueueResourceLimit
		trg.Parameters = incoming.Parameters
		trg.Enabled = incoming.Enabled
		if incoming.ProcessID != "" {
			trg.ProcessID = incoming.ProcessID
		}

		if err := trigger.Validate(trg); err != nil {
			return err
		}
		return tx.UpdateTrigger(trg)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trg)
}

func (s *Server) deleteTrigger(c *gin.Context) {
	err := s.store.Update(func(tx *storage.Txn) error {
		return tx.DeleteTrigger(c.Param("id"))
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
