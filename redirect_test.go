package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExternalRedirect(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<form id="externalForm" action="https://pay.example/x" method="POST">
			<input name="a" value="1">
			<input name="b" value="">
			<input value="orphan">
		</form></body></html>`)

	r := ParseExternalRedirect(doc)
	require.NotNil(t, r)
	assert.Equal(t, map[string]string{"a": "1"}, r.FormFields)
	assert.True(t, r.TargetURL.IsAbs())
	assert.Equal(t, "pay.example", r.TargetURL.Host)
	assert.Equal(t, "a=1", r.Values().Encode())
}

func TestParseExternalRedirectRejects(t *testing.T) {
	tests := map[string]string{
		"no form":         `<html><body><p>nothing</p></body></html>`,
		"other form":      `<form id="checkoutForm" action="https://pay.example/x"><input name="a" value="1"></form>`,
		"relative action": `<form id="externalForm" action="/pay"><input name="a" value="1"></form>`,
		"empty action":    `<form id="externalForm"><input name="a" value="1"></form>`,
		"no host":         `<form id="externalForm" action="https:///pay"></form>`,
	}

	for name, html := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, ParseExternalRedirect(mustDoc(t, html)))
		})
	}

	assert.Nil(t, ParseExternalRedirect(nil))
}
