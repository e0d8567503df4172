package dvr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyDataRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		utf8   bool
		stored string
	}{
		{"text", []byte("hello world"), true, `{"Utf8":"hello world"}`},
		{"empty", []byte{}, true, `{"Utf8":""}`},
		{"binary", []byte{0xff, 0xfe, 0x00, 0x01}, false, `{"Base64":"//4AAQ=="}`},
		{"truncated rune", []byte("caf\xc3"), false, `{"Base64":"Y2Fmww=="}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := NewBodyData(tt.input)
			assert.Equal(t, tt.utf8, data.IsUTF8())

			b, err := json.Marshal(data)
			require.NoError(t, err)
			assert.JSONEq(t, tt.stored, string(b))

			var decoded BodyData
			require.NoError(t, json.Unmarshal(b, &decoded))
			assert.Equal(t, tt.input, decoded.Bytes())
			assert.Equal(t, tt.utf8, decoded.IsUTF8())
		})
	}
}

func TestBodyDataCopiesInput(t *testing.T) {
	in := []byte("abc")
	data := NewBodyData(in)
	in[0] = 'x'
	assert.Equal(t, []byte("abc"), data.Bytes())

	out := data.Bytes()
	out[0] = 'y'
	assert.Equal(t, []byte("abc"), data.Bytes())
}

func TestBodyDataRejectsInvalid(t *testing.T) {
	for _, raw := range []string{`{}`, `{"Utf8":"a","Base64":"YQ=="}`, `{"Base64":"not base64!"}`} {
		var d BodyData
		assert.Error(t, json.Unmarshal([]byte(raw), &d), raw)
	}
}

func TestEventWireFormat(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		json  string
	}{
		{
			"request",
			requestEvent(0, Request{URI: "https://example.com", Headers: map[string][]string{"k": {"v"}}, Method: "POST"}),
			`{"connection_id":0,"action":{"Request":{"request":{"uri":"https://example.com","headers":{"k":["v"]},"method":"POST"}}}}`,
		},
		{
			"response",
			responseEvent(1, Response{Status: 200, Headers: map[string][]string{}}),
			`{"connection_id":1,"action":{"Response":{"response":{"Ok":{"status":200,"headers":{}}}}}}`,
		},
		{
			"response error",
			responseErrorEvent(2, "connection refused"),
			`{"connection_id":2,"action":{"Response":{"response":{"Err":"connection refused"}}}}`,
		},
		{
			"data",
			dataEvent(0, []byte("hi"), DirectionRequest),
			`{"connection_id":0,"action":{"Data":{"data":{"Utf8":"hi"},"direction":"Request"}}}`,
		},
		{
			"eof",
			eofEvent(0, true, DirectionResponse),
			`{"connection_id":0,"action":{"Eof":{"ok":true,"direction":"Response"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(b))

			var decoded Event
			require.NoError(t, json.Unmarshal([]byte(tt.json), &decoded))
			assert.Equal(t, tt.event, decoded)
		})
	}
}

func TestActionRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"Eof":{"ok":true,"direction":"Request"},"Data":{"data":{"Utf8":""},"direction":"Request"}}`,
		`{"Eof":{"ok":true,"direction":"Sideways"}}`,
		`{"Response":{"response":{}}}`,
	} {
		var a Action
		assert.Error(t, json.Unmarshal([]byte(raw), &a), raw)
	}
}

func TestNetworkTrafficVersion(t *testing.T) {
	var traffic NetworkTraffic
	require.NoError(t, json.Unmarshal([]byte(`{"events":[],"docs":null,"version":"V0"}`), &traffic))
	assert.Equal(t, V0, traffic.Version)
	assert.Nil(t, traffic.Docs)

	err := json.Unmarshal([]byte(`{"events":[],"docs":null,"version":"V9"}`), &traffic)
	assert.ErrorContains(t, err, "unsupported version")
}

func TestDirectionOpposite(t *testing.T) {
	assert.Equal(t, DirectionResponse, DirectionRequest.Opposite())
	assert.Equal(t, DirectionRequest, DirectionResponse.Opposite())
}
