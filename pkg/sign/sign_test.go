package sign

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignature(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "0x01020304", Signature{1, 2, 3, 4}.String())
		assert.Equal(t, "0x", Signature{}.String())
	})

	t.Run("JSON round trip", func(t *testing.T) {
		sig := Signature{0xde, 0xad, 0xbe, 0xef}

		data, err := json.Marshal(sig)
		require.NoError(t, err)
		assert.JSONEq(t, `"0xdeadbeef"`, string(data))

		var decoded Signature
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, sig, decoded)
	})

	t.Run("inside a struct", func(t *testing.T) {
		payload := struct {
			Sig []Signature `json:"sig"`
		}{Sig: []Signature{{0x01}, {0x02}}}

		data, err := json.Marshal(payload)
		require.NoError(t, err)
		assert.JSONEq(t, `{"sig":["0x01","0x02"]}`, string(data))
	})

	t.Run("invalid input", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{"not a string", `123`},
			{"missing prefix", `"deadbeef"`},
			{"odd length", `"0xabc"`},
			{"not hex", `"0xzz"`},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				var sig Signature
				assert.Error(t, json.Unmarshal([]byte(test.input), &sig))
			})
		}
	})
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint([]byte("abc"))
	assert.Equal(t, "0xba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", fp)
}
