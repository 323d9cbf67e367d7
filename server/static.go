package server

import (
	"embed"
	"net/http"
)

//go:embed web/console.html web/bootstrap.html
var webContent embed.FS

func (s *Service) handleConsolePage(w http.ResponseWriter, _ *http.Request) {
	servePage(w, "web/console.html")
}

func (s *Service) handleBootstrapPage(w http.ResponseWriter, _ *http.Request) {
	servePage(w, "web/bootstrap.html")
}

func servePage(w http.ResponseWriter, name string) {
	page, err := webContent.ReadFile(name)
	if err != nil {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		log.WithError(err).Error("Could not write page")
	}
}
