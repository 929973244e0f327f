package database

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const ClientCollectionName = "clients"

var (
	ErrClientIDEmpty  = errors.New("client_id is empty")
	ErrClientNotFound = errors.New("client does not exist")
)

// ClientRecord is a client allowed to connect. An empty Username or PasswordHash means the
// client may connect without that credential.
type ClientRecord struct {
	ClientID     string    `bson:"client_id" json:"client_id"`
	Username     string    `bson:"username,omitempty" json:"username,omitempty"`
	PasswordHash string    `bson:"password_hash,omitempty" json:"-"`
	Disabled     bool      `bson:"disabled" json:"disabled"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// SetPassword stores the bcrypt hash of password.
func (r *ClientRecord) SetPassword(password string) error {
	if password == "" {
		r.PasswordHash = ""
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	r.PasswordHash = string(hash)
	return nil
}

// CheckCredentials reports whether username and password satisfy the record.
func (r *ClientRecord) CheckCredentials(username string, password []byte) bool {
	if r.Username != "" && r.Username != username {
		return false
	}
	if r.PasswordHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), password) == nil
}

type ClientStore interface {
	FindClient(ctx context.Context, clientID string) (*ClientRecord, error)
	SaveClient(ctx context.Context, record *ClientRecord) error
	DeleteClient(ctx context.Context, clientID string) error
}
