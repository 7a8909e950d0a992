// Package embed renders the widget surface: the script tag and inline
// snippet handed to site owners, the bootstrap script, the chat page that
// runs inside the iframe, and the dashboard preview.
//
// Every renderer takes the config id and the public base URL explicitly.
package embed

import (
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"net/url"
	"strings"
	texttemplate "text/template"
)

// NotFoundMessage is shown when a config id does not resolve.
const NotFoundMessage = "Configuration for this assistant could not be found."

//go:embed templates/*
var templateFS embed.FS

var (
	pages  = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl"))
	script = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/widget.js.tmpl"))
)

// Params locates one widget.
type Params struct {
	// BaseURL is the public origin of the server, e.g. https://chat.example.com.
	BaseURL  string
	ConfigID string
}

// Validate checks that BaseURL is an absolute http(s) URL and ConfigID is set.
func (p Params) Validate() error {
	if strings.TrimSpace(p.ConfigID) == "" {
		return errors.New("config id is required")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base url must be an absolute http(s) URL: %q", p.BaseURL)
	}
	return nil
}

func (p Params) base() string {
	return strings.TrimRight(p.BaseURL, "/")
}

// ChatURL is the page loaded into the iframe.
func (p Params) ChatURL() string {
	return p.base() + ChatPath(p.ConfigID)
}

// ScriptURL is the bootstrap script referenced by ScriptTag.
func (p Params) ScriptURL() string {
	return p.base() + "/embed/" + url.PathEscape(p.ConfigID) + ".js"
}

// ChatPath is the server path of the chat page for configID.
func ChatPath(configID string) string {
	return "/chat/" + url.PathEscape(configID)
}

// SocketPath is the server path of the chat page's websocket.
func SocketPath(configID string) string {
	return ChatPath(configID) + "/ws"
}

// ScriptTag returns the one-line embed code for a site owner.
func ScriptTag(baseURL, configID string) string {
	p := Params{BaseURL: baseURL, ConfigID: configID}
	return fmt.Sprintf(`<script src="%s" defer></script>`, htmltemplate.HTMLEscapeString(p.ScriptURL()))
}

type snippetData struct {
	ChatURL  string
	Position string
	Preview  bool
}

// InlineSnippet returns self-contained embed markup: a container div and an
// inline script that builds the toggle button and the iframe.
func InlineSnippet(baseURL, configID string) (string, error) {
	p := Params{BaseURL: baseURL, ConfigID: configID}
	if err := p.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	if err := pages.ExecuteTemplate(&b, "snippet.html.tmpl", snippetData{ChatURL: p.ChatURL(), Position: "fixed"}); err != nil {
		return "", fmt.Errorf("render snippet: %w", err)
	}
	return b.String(), nil
}

// RenderScript writes the bootstrap script served at ScriptURL.
func RenderScript(w io.Writer, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := script.Execute(w, struct{ ChatURL string }{p.ChatURL()}); err != nil {
		return fmt.Errorf("render script: %w", err)
	}
	return nil
}

// PageParams configures the chat page.
type PageParams struct {
	ConfigID string
	// Title defaults to "Chat".
	Title string
}

// RenderChatPage writes the chat page. The page talks to the server over
// the websocket at SocketPath.
func RenderChatPage(w io.Writer, p PageParams) error {
	if strings.TrimSpace(p.ConfigID) == "" {
		return errors.New("config id is required")
	}
	title := p.Title
	if title == "" {
		title = "Chat"
	}
	data := struct {
		Title      string
		SocketPath string
	}{title, SocketPath(p.ConfigID)}
	if err := pages.ExecuteTemplate(w, "chat.html.tmpl", data); err != nil {
		return fmt.Errorf("render chat page: %w", err)
	}
	return nil
}

// RenderNotFound writes the page shown for an unknown config id.
func RenderNotFound(w io.Writer) error {
	if err := pages.ExecuteTemplate(w, "notfound.html.tmpl", NotFoundMessage); err != nil {
		return fmt.Errorf("render not found page: %w", err)
	}
	return nil
}

// RenderPreview writes a full page hosting the inline snippet positioned
// inside its container, for the dashboard preview frame.
func RenderPreview(w io.Writer, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data := snippetData{ChatURL: p.ChatURL(), Position: "absolute", Preview: true}
	if err := pages.ExecuteTemplate(w, "preview.html.tmpl", data); err != nil {
		return fmt.Errorf("render preview: %w", err)
	}
	return nil
}
