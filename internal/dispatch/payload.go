package dispatch

import (
	"encoding/json"

	"github.com/tariel-x/apppush/internal/models"
	"github.com/tariel-x/apppush/internal/tenant"
)

const (
	defaultIcon = "/icon.png"
	defaultURL  = "/"
)

// Request is one notification to send.
type Request struct {
	Scope tenant.Scope
	Title string
	Body  string
	Icon  string
	Image string
	// URL overrides the app's target URL as the open-url.
	URL string
}

// Payload is what the service worker on the device receives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Icon  string `json:"icon"`
	Image string `json:"image,omitempty"`
}

// NewPayload fills defaults. A single-app dispatch opens the app's target
// URL unless overridden; an all-apps dispatch carries a URL only when the
// caller gave one.
func NewPayload(req Request, app *models.App) Payload {
	p := Payload{
		Title: req.Title,
		Body:  req.Body,
		URL:   req.URL,
		Icon:  req.Icon,
		Image: req.Image,
	}
	if p.Icon == "" {
		p.Icon = defaultIcon
	}
	if p.URL == "" && !req.Scope.All {
		p.URL = defaultURL
		if app != nil && app.TargetURL != "" {
			p.URL = app.TargetURL
		}
	}
	return p
}

func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
