package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

type workqueueRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Enabled     *bool  `json:"enabled"`
}

func (s *Server) createWorkqueue(c *gin.Context) {
	var req workqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	q := &types.Workqueue{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     true,
	}
	if req.Enabled != nil {
		q.Enabled = *req.Enabled
	}

	err := s.store.Update(func(tx *storage.Txn) error {
		existing, err := tx.WorkqueueByName(req.Name)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Deleted {
			return fmt.Errorf("workqueue %q already exists: %w", req.Name, types.ErrInvalid)
		}
		return tx.CreateWorkqueue(q)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (s *Server) listWorkqueues(c *gin.Context) {
	var queues []*types.Workqueue
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		queues, err = tx.ListWorkqueues(c.Query("include_deleted") == "true")
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, queues)
}

func (s *Server) getWorkqueue(c *gin.Context) {
	var q *types.Workqueue
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		q, err = tx.GetWorkqueue(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) updateWorkqueue(c *gin.Context) {
	var req workqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var q *types.Workqueue
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		q, err = tx.GetWorkqueue(c.Param("id"))
		if err != nil {
			return err
		}
		if q.Deleted {
			return fmt.Errorf("workqueue %s: %w", q.ID, types.ErrGone)
		}

		q.Name = req.Name
		q.Description = req.Description
		if req.Enabled != nil {
			q.Enabled = *req.Enabled
		}
		return tx.UpdateWorkqueue(q)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) deleteWorkqueue(c *gin.Context) {
	err := s.store.Update(func(tx *storage.Txn) error {
		return tx.DeleteWorkqueue(c.Param("id"))
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addWorkItemRequest struct {
	Data      string `json:"data" binding:"required"`
	Reference string `json:"reference"`
}

func (s *Server) addWorkItem(c *gin.Context) {
	var req addWorkItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var item *types.WorkItem
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		item, err = s.queues.Enqueue(tx, c.Param("id"), req.Data, req.Reference)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// claimWorkItem dispenses the next pending item: 200 with the item, 204 when
// the queue is empty or disabled, 503 when contention exhausted the retry
// budget.
func (s *Server) claimWorkItem(c *gin.Context) {
	item, err := s.queues.Claim(c.Param("id"), now())
	if err != nil {
		writeError(c, err)
		return
	}
	if item == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, item)
}

type clearWorkItemsRequest struct {
	Status       *types.WorkItemStatus `json:"status"`
	OlderThanUTC *time.Time            `json:"older_than"`
}

func (s *Server) clearWorkItems(c *gin.Context) {
	var req clearWorkItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var removed int
	err := s.store.Update(func(tx *storage.Txn) error {
		if _, err := tx.GetWorkqueue(c.Param("id")); err != nil {
			return err
		}
		var err error
		removed, err = tx.ClearWorkItems(c.Param("id"), req.Status, req.OlderThanUTC)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) workItemsByReference(c *gin.Context) {
	var status *types.WorkItemStatus
	if v := c.Query("status"); v != "" {
		st := types.WorkItemStatus(v)
		status = &st
	}

	var items []*types.WorkItem
	err := s.store.View(func(tx *storage.Txn) error {
		if _, err := tx.GetWorkqueue(c.Param("id")); err != nil {
			return err
		}
		var err error
		items, err = tx.WorkItemsByReference(c.Param("id"), c.Query("reference"), status)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) workqueueInfo(c *gin.Context) {
	var info interface{}
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		info, err = s.queues.QueueInfo(tx, c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getWorkItem(c *gin.Context) {
	var item *types.WorkItem
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		item, err = tx.GetWorkItem(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type updateWorkItemStatusRequest struct {
	Status  types.WorkItemStatus `json:"status" binding:"required"`
	Message string               `json:"message"`
}

func (s *Server) updateWorkItemStatus(c *gin.Context) {
	var req updateWorkItemStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	var item *types.WorkItem
	err := s.store.Update(func(tx *storage.Txn) error {
		var err error
		item, err = s.queues.UpdateStatus(tx, c.Param("id"), req.Status, req.Message, now())
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
