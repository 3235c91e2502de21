package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/droverd/drover/pkg/types"
)

// --- AuditLog operations ---

// AppendAuditLog inserts an audit entry. There is deliberately no update or
// delete counterpart; the trail is append-only.
func (t *Txn) AppendAuditLog(entry *types.AuditLog) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.EventTimestamp.IsZero() {
		entry.EventTimestamp = entry.CreatedAt
	}
	return t.put(bucketAuditLogs, entry.ID, entry)
}

// AuditLogsBySession returns the trail for a session, oldest first.
func (t *Txn) AuditLogsBySession(sessionID string) ([]*types.AuditLog, error) {
	return t.auditLogsWhere(func(e *types.AuditLog) bool {
		return e.SessionID == sessionID
	})
}

// AuditLogsByWorkItem returns the trail for a work item, oldest first.
func (t *Txn) AuditLogsByWorkItem(workItemID string) ([]*types.AuditLog, error) {
	return t.auditLogsWhere(func(e *types.AuditLog) bool {
		return e.WorkItemID == workItemID
	})
}

func (t *Txn) auditLogsWhere(keep func(*types.AuditLog) bool) ([]*types.AuditLog, error) {
	var entries []*types.AuditLog
	err := t.forEach(bucketAuditLogs, func(v []byte) error {
		var e types.AuditLog
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		if keep(&e) {
			entries = append(entries, &e)
		}
		return nil
	})
	sortByCreatedAt(entries, func(e *types.AuditLog) (time.Time, string) { return e.EventTimestamp, e.ID })
	return entries, err
}

// --- Credential operations ---

func (t *Txn) CreateCredential(c *types.Credential) error {
	stampNew(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return t.put(bucketCredentials, c.ID, c)
}

func (t *Txn) GetCredential(id string) (*types.Credential, error) {
	var c types.Credential
	ok, err := t.get(bucketCredentials, id, &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("credential %s: %w", id, types.ErrNotFound)
	}
	return &c, nil
}

func (t *Txn) UpdateCredential(c *types.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	return t.put(bucketCredentials, c.ID, c)
}

// DeleteCredential soft-deletes a credential.
func (t *Txn) DeleteCredential(id string) error {
	c, err := t.GetCredential(id)
	if err != nil {
		return err
	}
	c.Deleted = true
	return t.UpdateCredential(c)
}

// CredentialByName returns the credential with the given name, deleted or
// not. Names are unique, so the first match wins.
func (t *Txn) CredentialByName(name string) (*types.Credential, error) {
	var found *types.Credential
	err := t.forEach(bucketCredentials, func(v []byte) error {
		if found != nil {
			return nil
		}
		var c types.Credential
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		if c.Name == name {
			found = &c
		}
		return nil
	})
	return found, err
}

func (t *Txn) ListCredentials(includeDeleted bool) ([]*types.Credential, error) {
	var creds []*types.Credential
	err := t.forEach(bucketCredentials, func(v []byte) error {
		var c types.Credential
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		if c.Deleted && !includeDeleted {
			return nil
		}
		creds = append(creds, &c)
		return nil
	})
	sortByCreatedAt(creds, func(c *types.Credential) (time.Time, string) { return c.CreatedAt, c.ID })
	return creds, err
}

// --- AccessToken operations ---

func (t *Txn) CreateAccessToken(tok *types.AccessToken) error {
	stampNew(&tok.ID, &tok.CreatedAt, &tok.UpdatedAt)
	return t.putToken(tok)
}

func (t *Txn) UpdateAccessToken(tok *types.AccessToken) error {
	tok.UpdatedAt = time.Now().UTC()
	return t.putToken(tok)
}

// putToken serializes with the secret included; the json tag on Secret hides
// it from API responses, so tokens use a private envelope here.
func (t *Txn) putToken(tok *types.AccessToken) error {
	env := tokenEnvelope{AccessToken: *tok, SecretValue: tok.Secret}
	data, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketAccessTokens).Put([]byte(tok.ID), data)
}

type tokenEnvelope struct {
	types.AccessToken
	SecretValue string `json:"secret_value"`
}

// CountAccessTokens counts live tokens. Zero live tokens puts the API in
// bootstrap mode where any bearer is accepted.
func (t *Txn) CountAccessTokens() (int, error) {
	tokens, err := t.ListAccessTokens(false)
	return len(tokens), err
}

func (t *Txn) ListAccessTokens(includeDeleted bool) ([]*types.AccessToken, error) {
	var tokens []*types.AccessToken
	err := t.forEach(bucketAccessTokens, func(v []byte) error {
		var env tokenEnvelope
		if err := json.Unmarshal(v, &env); err != nil {
			return err
		}
		if env.Deleted && !includeDeleted {
			return nil
		}
		tok := env.AccessToken
		tok.Secret = env.SecretValue
		tokens = append(tokens, &tok)
		return nil
	})
	sortByCreatedAt(tokens, func(tok *types.AccessToken) (time.Time, string) { return tok.CreatedAt, tok.ID })
	return tokens, err
}

// AccessTokenBySecret resolves a bearer value to its live token, or nil.
func (t *Txn) AccessTokenBySecret(secret string) (*types.AccessToken, error) {
	tokens, err := t.ListAccessTokens(false)
	if err != nil {
		return nil, err
	}
	for _, tok := range tokens {
		if tok.Secret == secret {
			return tok, nil
		}
	}
	return nil, nil
}

// DeleteAccessToken soft-deletes a token, revoking it.
func (t *Txn) DeleteAccessToken(id string) error {
	tokens, err := t.ListAccessTokens(true)
	if err != nil {
		return err
	}
	for _, tok := range tokens {
		if tok.ID == id {
			tok.Deleted = true
			return t.UpdateAccessToken(tok)
		}
	}
	return fmt.Errorf("access token %s: %w", id, types.ErrNotFound)
}
