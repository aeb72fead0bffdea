package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tariel-x/apppush/internal/models"
	"github.com/tariel-x/apppush/internal/tenant"
)

func TestNewPayload(t *testing.T) {
	app := &models.App{ID: "a1", TargetURL: "https://shop.example"}

	tests := []struct {
		name string
		req  Request
		app  *models.App
		want Payload
	}{
		{
			name: "single app falls back to target url and default icon",
			req:  Request{Scope: tenant.Single("a1"), Title: "Hi", Body: "there"},
			app:  app,
			want: Payload{Title: "Hi", Body: "there", URL: "https://shop.example", Icon: "/icon.png"},
		},
		{
			name: "single app without target url opens root",
			req:  Request{Scope: tenant.Single("a1"), Title: "Hi", Body: "there"},
			app:  &models.App{ID: "a1"},
			want: Payload{Title: "Hi", Body: "there", URL: "/", Icon: "/icon.png"},
		},
		{
			name: "override wins",
			req:  Request{Scope: tenant.Single("a1"), Title: "Hi", Body: "there", URL: "/sale", Icon: "/i.png", Image: "/big.png"},
			app:  app,
			want: Payload{Title: "Hi", Body: "there", URL: "/sale", Icon: "/i.png", Image: "/big.png"},
		},
		{
			name: "all apps without override has no url",
			req:  Request{Scope: tenant.AllOwnedBy("u1"), Title: "Hi", Body: "there"},
			want: Payload{Title: "Hi", Body: "there", Icon: "/icon.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewPayload(tt.req, tt.app))
		})
	}
}

func TestPayloadMarshalOmitsEmptyOptionals(t *testing.T) {
	b, err := Payload{Title: "Hi", Body: "there", Icon: "/icon.png"}.Marshal()
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.NotContains(t, fields, "url")
	assert.NotContains(t, fields, "image")
	assert.Equal(t, "/icon.png", fields["icon"])
}
