package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordV1 struct {
	Version  int    `msgpack:"v"`
	Capacity int64  `msgpack:"cap"`
	Name     string `msgpack:"name"`
}

type recordV2 struct {
	Version  int    `msgpack:"v"`
	Capacity int64  `msgpack:"cap"`
	Name     string `msgpack:"name"`
	Wraps    uint64 `msgpack:"wraps"`
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	data, err := Marshal(&recordV2{Version: 2, Capacity: 1 << 20, Name: "ring", Wraps: 9})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var old recordV1
	require.NoError(t, Unmarshal(data, &old))
	assert.Equal(t, recordV1{Version: 2, Capacity: 1 << 20, Name: "ring"}, old)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var rec recordV1
	assert.Error(t, Unmarshal([]byte{0xc1}, &rec))
}
