// Package handlers adapts mux routes to the proxy's handler methods,
// pulling path variables out before handing off.
package handlers

import (
	"net/http"

	"github.com/jakedarc/barbarian-ultimate/work/proxy"

	"github.com/gorilla/mux"
)

func HandleVideos(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.HandleVideos(w, r)
	}
}

func HandleManifest(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.HandleManifest(w, r, mux.Vars(r)["id"])
	}
}

func HandleContainer(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.HandleContainer(w, r, mux.Vars(r)["path"])
	}
}

func HandleThumbnail(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		p.HandleThumbnail(w, r, vars["size"], vars["id"])
	}
}

func HandleEmote(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.HandleEmote(w, r, mux.Vars(r)["name"])
	}
}

func HandleChatTimecodes(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.HandleChatTimecodes(w, r, mux.Vars(r)["id"])
	}
}

func HandleChatRange(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.HandleChatRange(w, r, mux.Vars(r)["id"])
	}
}

func HandleSync(p *proxy.Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.HandleSync(w, r)
	}
}
