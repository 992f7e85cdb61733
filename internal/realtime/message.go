package realtime

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Message types.
const (
	TypeAuth        = "auth"
	TypeSyncRequest = "sync_request"
	TypeSyncData    = "SYNC_DATA"
)

// Errors
var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// UserID identifies a user. Clients may send it as a JSON string or an
// integral number; 42, 42.0 and "42" name the same user.
type UserID string

func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*u = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("userId must be a string or number: %w", err)
	}
	id, err := canonicalNumber(n)
	if err != nil {
		return err
	}
	*u = UserID(id)
	return nil
}

// canonicalNumber renders an integral JSON number in plain decimal, so 42,
// 42.0 and 4.2e1 name the same user.
func canonicalNumber(n json.Number) (string, error) {
	lit := n.String()
	if !strings.ContainsAny(lit, ".eE") {
		if lit == "-0" {
			return "0", nil
		}
		return lit, nil
	}

	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("userId must be an integer: %w", err)
	}
	if math.IsInf(f, 0) || math.Trunc(f) != f || f < math.MinInt64 || f >= math.MaxInt64 {
		return "", fmt.Errorf("userId must be an integer, got %s", lit)
	}
	return strconv.FormatInt(int64(f), 10), nil
}

// Inbound is a client to server message.
type Inbound struct {
	Type   string `json:"type"`
	UserID UserID `json:"userId,omitempty"`
	Token  string `json:"token,omitempty"`
}

// Outbound is a server to client message.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// DecodeInbound parses and checks one inbound frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch in.Type {
	case TypeAuth:
		if in.UserID == "" {
			return in, fmt.Errorf("%w: auth without userId", ErrMalformed)
		}
	case TypeSyncRequest:
	case "":
		return in, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return in, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
	return in, nil
}

// EncodeSyncData builds a SYNC_DATA frame.
func EncodeSyncData(payload any) ([]byte, error) {
	data, err := json.Marshal(Outbound{Type: TypeSyncData, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode sync data: %w", err)
	}
	return data, nil
}
