package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseExchange(t *testing.T) {
	req := "POST /login HTTP/1.1\r\nHost: api.example.com\r\nX-Api-Key: k\r\n\r\n{\"user\":\"a\"}"
	resp := "HTTP/1.1 201 Created\r\nContent-Type: application/json\r\n\r\n{\"ok\":true}"

	ex := ParseExchange(req, resp)
	assert.True(t, ex.HasRequest)
	assert.True(t, ex.HasResponse)
	assert.Equal(t, "k", ex.RequestHeaders.Get("x-api-key"))
	assert.Equal(t, `{"user":"a"}`, ex.RequestBody)
	assert.Equal(t, 201, ex.Status)
	assert.Equal(t, "application/json", ex.ResponseHeaders.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, ex.ResponseBody)
}

func TestParseExchangeNonMessageText(t *testing.T) {
	fragment := "get:\n  summary: List users\n  responses:\n    \"200\": {}\n"
	ex := ParseExchange(fragment, "")
	assert.True(t, ex.HasRequest)
	assert.False(t, ex.HasResponse)
	assert.Empty(t, ex.RequestHeaders)
	assert.Equal(t, fragment, ex.RequestBody)
	assert.Zero(t, ex.Status)
}

func TestParseExchangeEmpty(t *testing.T) {
	ex := ParseExchange("", "")
	assert.False(t, ex.HasRequest)
	assert.False(t, ex.HasResponse)
	assert.NotNil(t, ex.RequestHeaders)
	assert.NotNil(t, ex.ResponseHeaders)
}
