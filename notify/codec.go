package notify

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes notifications for remote transports.
type Codec interface {
	Encode(n Notification) ([]byte, error)
	Decode(data []byte) (Notification, error)
	// Name returns the codec identifier carried alongside each frame.
	Name() string
}

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecByName returns the codec registered under name. Empty selects
// msgpack.
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecMsgpack, "":
		return MsgpackCodec{}, nil
	case CodecJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("notify: unknown codec %q", name)
	}
}

// MsgpackCodec encodes notifications as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(n Notification) ([]byte, error) { return msgpack.Marshal(&n) }

func (MsgpackCodec) Decode(data []byte) (Notification, error) {
	var n Notification
	err := msgpack.Unmarshal(data, &n)
	return n, err
}

func (MsgpackCodec) Name() string { return CodecMsgpack }

// JSONCodec encodes notifications as JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(n Notification) ([]byte, error) { return json.Marshal(n) }

func (JSONCodec) Decode(data []byte) (Notification, error) {
	var n Notification
	err := json.Unmarshal(data, &n)
	return n, err
}

func (JSONCodec) Name() string { return CodecJSON }
