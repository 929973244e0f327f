package hook

import (
	"context"
	"errors"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/database"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/packet"
)

// AllowList accepts only the configured client identifiers and usernames. An empty list
// allows everything for that field.
type AllowList struct {
	clientIDs map[string]struct{}
	usernames map[string]struct{}
}

func NewAllowList(clientIDs, usernames []string) *AllowList {
	a := &AllowList{
		clientIDs: make(map[string]struct{}, len(clientIDs)),
		usernames: make(map[string]struct{}, len(usernames)),
	}
	for _, id := range clientIDs {
		a.clientIDs[id] = struct{}{}
	}
	for _, name := range usernames {
		a.usernames[name] = struct{}{}
	}
	return a
}

func (a *AllowList) Validate(_ context.Context, clientID, username string, _ []byte) packet.ConnectRespType {
	if len(a.clientIDs) > 0 {
		if _, ok := a.clientIDs[clientID]; !ok {
			return packet.IdentifierRejected
		}
	}
	if len(a.usernames) > 0 {
		if _, ok := a.usernames[username]; !ok {
			return packet.AuthenticationFailed
		}
	}
	return packet.Accepted
}

// StoreAllowList accepts clients registered in a database.ClientStore whose credentials match.
type StoreAllowList struct {
	store database.ClientStore
}

func NewStoreAllowList(store database.ClientStore) *StoreAllowList {
	return &StoreAllowList{store: store}
}

func (s *StoreAllowList) Validate(ctx context.Context, clientID, username string, password []byte) packet.ConnectRespType {
	record, err := s.store.FindClient(ctx, clientID)
	switch {
	case errors.Is(err, database.ErrClientNotFound), errors.Is(err, database.ErrClientIDEmpty):
		return packet.IdentifierRejected
	case err != nil:
		logger.ErrorF("[%s] Client lookup failed: %v", clientID, err)
		return packet.ServerUnavailable
	}
	if record.Disabled {
		return packet.NotAuthorized
	}
	if !record.CheckCredentials(username, password) {
		return packet.AuthenticationFailed
	}
	return packet.Accepted
}
