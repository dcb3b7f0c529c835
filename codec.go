package sessionstore

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/ugorji/go/codec"
)

// Codec turns values into bytes and back. It is used for typed access to
// session values (Handle.Encode/Decode) and by backends that store a whole
// record as a single blob.
type Codec struct {
	Name      string
	Marshal   func(any) ([]byte, error)
	Unmarshal func([]byte, any) error
}

var (
	// JSON is a Codec that uses the encoding/json package.
	JSON = Codec{"json", json.Marshal, json.Unmarshal}
	// Gob is a Codec that uses the encoding/gob package.
	Gob = Codec{"gob", gobMarshal, gobUnmarshal}
	// MsgPack is a Codec that uses the github.com/ugorji/go/codec package.
	MsgPack = Codec{"msgpack", msgPackMarshal, msgPackUnmarshal}
)

func gobMarshal(v any) ([]byte, error) {
	buf := payloadBuffers.get()
	defer payloadBuffers.put(buf)

	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	// The buffer goes back to the pool wiped, so hand out a copy.
	return bytes.Clone(buf.Bytes()), nil
}

func gobUnmarshal(data []byte, v any) error {
	reader := payloadReaders.get()
	defer payloadReaders.put(reader)
	reader.Reset(data)

	return gob.NewDecoder(reader).Decode(v)
}

var msgPackHandle = &codec.MsgpackHandle{}

func init() {
	msgPackHandle.WriteExt = true
	msgPackHandle.RawToString = true
}

func msgPackMarshal(v any) (out []byte, err error) {
	err = codec.NewEncoderBytes(&out, msgPackHandle).Encode(v)
	return
}

func msgPackUnmarshal(in []byte, v any) error {
	return codec.NewDecoderBytes(in, msgPackHandle).Decode(v)
}

// envelope is the blob layout used by key-value and tabular backends.
// Times are stored as Unix nanoseconds so every codec round-trips them
// without extension types.
type envelope struct {
	Data      map[string][]byte `json:"data" codec:"data"`
	CreatedAt int64             `json:"created_at" codec:"created_at"`
	ExpiresAt int64             `json:"expires_at" codec:"expires_at"`
	Longterm  bool              `json:"longterm" codec:"longterm"`
	Storable  bool              `json:"storable" codec:"storable"`
	StoreID   string            `json:"store_id" codec:"store_id"`
}

func encodeEnvelope(c Codec, r *Record) ([]byte, error) {
	return c.Marshal(envelope{
		Data:      r.Data,
		CreatedAt: nanoTime(r.CreatedAt),
		ExpiresAt: nanoTime(r.ExpiresAt),
		Longterm:  r.Longterm,
		Storable:  r.Storable,
		StoreID:   r.StoreID,
	})
}

func decodeEnvelope(c Codec, id string, blob []byte) (*Record, error) {
	var env envelope
	if err := c.Unmarshal(blob, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		env.Data = make(map[string][]byte)
	}
	return &Record{
		ID:        id,
		Data:      env.Data,
		CreatedAt: unixNano(env.CreatedAt),
		ExpiresAt: unixNano(env.ExpiresAt),
		Longterm:  env.Longterm,
		Storable:  env.Storable,
		StoreID:   env.StoreID,
	}, nil
}

// encodeData serializes the data map for the blob column of tabular
// backends. Empty maps are stored as NULL.
func encodeData(data map[string][]byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return gobMarshal(data)
}

func decodeData(blob []byte) (map[string][]byte, error) {
	data := make(map[string][]byte)
	if len(blob) == 0 {
		return data, nil
	}
	if err := gobUnmarshal(blob, &data); err != nil {
		return nil, err
	}
	return data, nil
}
