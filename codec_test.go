package sessionstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name  string   `json:"name" codec:"name"`
	Roles []string `json:"roles" codec:"roles"`
}

func TestCodecs(t *testing.T) {
	for _, c := range []Codec{JSON, Gob, MsgPack} {
		t.Run(c.Name, func(t *testing.T) {
			in := profile{Name: "ada", Roles: []string{"admin", "ops"}}
			b, err := c.Marshal(in)
			require.NoError(t, err)

			var out profile
			require.NoError(t, c.Unmarshal(b, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestEnvelope(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	r := &Record{
		ID:        "0123456789abcdef0123456789abcdef",
		Data:      map[string][]byte{"user_id": []byte("42"), "empty": {}},
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
		Longterm:  true,
		StoreID:   "store",
	}
	for _, c := range []Codec{JSON, Gob, MsgPack} {
		t.Run(c.Name, func(t *testing.T) {
			blob, err := encodeEnvelope(c, r)
			require.NoError(t, err)

			got, err := decodeEnvelope(c, r.ID, blob)
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)
			assert.Equal(t, []byte("42"), got.Data["user_id"])
			assert.True(t, got.CreatedAt.Equal(r.CreatedAt))
			assert.True(t, got.ExpiresAt.Equal(r.ExpiresAt))
			assert.True(t, got.Longterm)
			assert.False(t, got.Storable)
			assert.Equal(t, "store", got.StoreID)
		})
	}
}

func TestDecodeEnvelope_Garbage(t *testing.T) {
	_, err := decodeEnvelope(JSON, "id", []byte("{not json"))
	assert.Error(t, err)
}

func TestEncodeData_EmptyIsNil(t *testing.T) {
	blob, err := encodeData(map[string][]byte{})
	require.NoError(t, err)
	assert.Nil(t, blob)

	data, err := decodeData(nil)
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Empty(t, data)
}
