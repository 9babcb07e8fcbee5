package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams_Encode(t *testing.T) {
	params := Params{
		"channel":   "C1",
		"limit":     50,
		"inclusive": true,
		"blocks":    []map[string]any{{"type": "divider"}},
		"skip":      nil,
	}

	form, err := params.Encode()
	require.NoError(t, err)

	assert.Equal(t, "C1", form.Get("channel"))
	assert.Equal(t, "50", form.Get("limit"))
	assert.Equal(t, "true", form.Get("inclusive"))
	assert.Equal(t, `[{"type":"divider"}]`, form.Get("blocks"))
	_, present := form["skip"]
	assert.False(t, present)
	assert.Equal(t, `blocks=%5B%7B%22type%22%3A%22divider%22%7D%5D&channel=C1&inclusive=true&limit=50`, form.Encode())
}

func TestParams_CloneAndHas(t *testing.T) {
	p := Params{"cursor": nil, "limit": 10}
	c := p.Clone()
	c["limit"] = 20

	assert.Equal(t, 10, p["limit"])
	assert.False(t, p.Has("cursor"))
	assert.True(t, p.Has("limit"))
	assert.False(t, p.Has("missing"))
}

func TestNewHTTPTransport_TrailingSlash(t *testing.T) {
	tr := NewHTTPTransport("https://example.test/api", "ua", nil, nil)
	assert.Equal(t, "https://example.test/api/", tr.baseURL)
}

func TestValidMethodName(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{"conversations.list", true},
		{"admin.apps.approved.list", true},
		{"files.getUploadURLExternal", true},
		{"", false},
		{"chat.post\nMessage", false},
		{"../auth.test", false},
		{"users.info?user=U1", false},
		{"chat postMessage", false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := ValidMethodName(tt.method); got != tt.want {
				t.Errorf("ValidMethodName(%q) = %v, want %v", tt.method, got, tt.want)
			}
		})
	}
}

func TestRequest_Validate(t *testing.T) {
	require.NoError(t, (&Request{Method: "chat.postMessage", Params: Params{"text": "hi"}}).Validate())

	err := (&Request{Method: "chat.postMessage", Params: Params{"blocks": make(chan int)}}).Validate()
	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), `encode param "blocks"`)
}
