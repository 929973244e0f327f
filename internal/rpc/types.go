package rpc

type ListClientsRequest struct{}

type ClientState struct {
	ClientID      string          `json:"client_id"`
	Connected     bool            `json:"connected"`
	CleanSession  bool            `json:"clean_session"`
	Subscriptions map[string]byte `json:"subscriptions,omitempty"`
	Queued        int32           `json:"queued"`
	Inflight      int32           `json:"inflight"`
}

type ListClientsResponse struct {
	Clients []*ClientState `json:"clients"`
}

type PublishRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     uint32 `json:"qos"`
	Sender  string `json:"sender,omitempty"`
}

type PublishResponse struct {
	Delivered int32 `json:"delivered"`
}

type DisconnectClientRequest struct {
	ClientID string `json:"client_id"`
}

type ExecuteResponse struct {
	Status bool `json:"status"`
}
