package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/droverd/drover/pkg/security"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

type auditLogRequest struct {
	SessionID  string `json:"session_id"`
	WorkItemID string `json:"workitem_id"`

	Message    string `json:"message" binding:"required"`
	Level      string `json:"level"`
	LoggerName string `json:"logger_name"`
	Module     string `json:"module"`
	FuncName   string `json:"function_name"`
	LineNumber int    `json:"line_number"`

	ExceptionType      string `json:"exception_type"`
	ExceptionMessage   string `json:"exception_message"`
	ExceptionTraceback string `json:"exception_traceback"`

	StructuredData map[string]string `json:"structured_data"`
	EventTimestamp *time.Time        `json:"event_timestamp"`
}

func (s *Server) appendAuditLog(c *gin.Context) {
	var req auditLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	entry := &types.AuditLog{
		SessionID:          req.SessionID,
		WorkItemID:         req.WorkItemID,
		Message:            req.Message,
		Level:              req.Level,
		LoggerName:         req.LoggerName,
		Module:             req.Module,
		FuncName:           req.FuncName,
		LineNumber:         req.LineNumber,
		ExceptionType:      req.ExceptionType,
		ExceptionMessage:   req.ExceptionMessage,
		ExceptionTraceback: req.ExceptionTraceback,
		StructuredData:     req.StructuredData,
	}
	if req.EventTimestamp != nil {
		entry.EventTimestamp = req.EventTimestamp.UTC()
	}

	err := s.store.Update(func(tx *storage.Txn) error {
		return tx.AppendAuditLog(entry)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) auditLogsBySession(c *gin.Context) {
	var entries []*types.AuditLog
	err := s.store.View(func(tx *storage.Txn) error {
		if _, err := tx.GetSession(c.Param("id")); err != nil {
			return err
		}
		var err error
		entries, err = tx.AuditLogsBySession(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) auditLogsByWorkItem(c *gin.Context) {
	var entries []*types.AuditLog
	err := s.store.View(func(tx *storage.Txn) error {
		if _, err := tx.GetWorkItem(c.Param("id")); err != nil {
			return err
		}
		var err error
		entries, err = tx.AuditLogsByWorkItem(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type credentialRequest struct {
	Name     string `json:"name" binding:"required"`
	Data     string `json:"data"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) createCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}
	if s.encryptor == nil {
		writeError(c, fmt.Errorf("credential encryption is not configured: %w", types.ErrInvalid))
		return
	}

	cred := &types.Credential{
		Name:     req.Name,
		Username: req.Username,
	}
	if req.Data != "" {
		data, err := s.encryptor.Encrypt([]byte(req.Data))
		if err != nil {
			writeError(c, err)
			return
		}
		cred.Data = data
	}
	if req.Password != "" {
		password, err := s.encryptor.Encrypt([]byte(req.Password))
		if err != nil {
			writeError(c, err)
			return
		}
		cred.Password = password
	}

	err := s.store.Update(func(tx *storage.Txn) error {
		existing, err := tx.CredentialByName(req.Name)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Deleted {
			return fmt.Errorf("credential %q already exists: %w", req.Name, types.ErrInvalid)
		}
		return tx.CreateCredential(cred)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, credentialView(cred))
}

func (s *Server) listCredentials(c *gin.Context) {
	var creds []*types.Credential
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		creds, err = tx.ListCredentials(false)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]gin.H, 0, len(creds))
	for _, cred := range creds {
		views = append(views, credentialView(cred))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) getCredential(c *gin.Context) {
	var cred *types.Credential
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		cred, err = tx.GetCredential(c.Param("id"))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, credentialView(cred))
}

func (s *Server) deleteCredential(c *gin.Context) {
	err := s.store.Update(func(tx *storage.Txn) error {
		return tx.DeleteCredential(c.Param("id"))
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// credentialView hides ciphertext from API responses; only metadata leaves
// the server.
func credentialView(cred *types.Credential) gin.H {
	return gin.H{
		"id":         cred.ID,
		"name":       cred.Name,
		"username":   cred.Username,
		"has_data":   len(cred.Data) > 0,
		"created_at": cred.CreatedAt,
		"updated_at": cred.UpdatedAt,
	}
}

type tokenRequest struct {
	Identifier string     `json:"identifier" binding:"required"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// createToken mints a bearer token. The secret appears once in this
// response and is never readable again.
func (s *Server) createToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%v: %w", err, types.ErrInvalid))
		return
	}

	secret, err := security.GenerateToken(32)
	if err != nil {
		writeError(c, err)
		return
	}

	tok := &types.AccessToken{
		Identifier: req.Identifier,
		Secret:     secret,
		ExpiresAt:  req.ExpiresAt,
	}
	err = s.store.Update(func(tx *storage.Txn) error {
		return tx.CreateAccessToken(tok)
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         tok.ID,
		"identifier": tok.Identifier,
		"secret":     secret,
		"expires_at": tok.ExpiresAt,
	})
}

func (s *Server) listTokens(c *gin.Context) {
	var tokens []*types.AccessToken
	err := s.store.View(func(tx *storage.Txn) error {
		var err error
		tokens, err = tx.ListAccessTokens(false)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (s *Server) deleteToken(c *gin.Context) {
	err := s.store.Update(func(tx *storage.Txn) error {
		return tx.DeleteAccessToken(c.Param("id"))
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
