package canonjson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysCompactly(t *testing.T) {
	var b, err = Marshal(map[string]interface{}{
		"zeta":  1,
		"alpha": "x",
		"mid":   map[string]interface{}{"b": nil, "a": []int{3, 2}},
	})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":"x","mid":{"a":[3,2],"b":null},"zeta":1}`, string(b))
}

func TestMarshalStructsUseTags(t *testing.T) {
	type inner struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	var b, err = Marshal(inner{B: "v", A: 7})
	require.NoError(t, err)
	require.Equal(t, `{"a":7,"b":"v"}`, string(b))
}

func TestMarshalPreservesNumberLiterals(t *testing.T) {
	var b, err = Marshal(map[string]interface{}{"f": 0.5, "i": 299, "big": 1e21})
	require.NoError(t, err)
	require.Equal(t, `{"big":1e+21,"f":0.5,"i":299}`, string(b))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	var b, err = Marshal(map[string]string{"u": "a&b<c>"})
	require.NoError(t, err)
	require.Equal(t, `{"u":"a&b<c>"}`, string(b))
}

func TestSHA256HexIsStable(t *testing.T) {
	var in = map[string]interface{}{"route": "POST:/orders", "n": 1}
	h1, err := SHA256Hex(in)
	require.NoError(t, err)
	h2, err := SHA256Hex(map[string]interface{}{"n": 1, "route": "POST:/orders"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}
