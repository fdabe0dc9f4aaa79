// internal/server/embed.go
package server

import (
	"embed"
	"html/template"

	"github.com/sua-org/cam-voice/internal/coordinator"
)

//go:embed web/index.html web/app.js
var webFS embed.FS

var appJS = mustRead("web/app.js")

type pageData struct {
	Feeds []coordinator.Feed
}

func pageTemplate() *template.Template {
	return template.Must(template.ParseFS(webFS, "web/index.html"))
}

func mustRead(name string) []byte {
	b, err := webFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return b
}
