package webui

import (
	"bytes"
	"compress/gzip"
	"embed"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

const (
	// AssetsPath is the URL prefix the embedded assets are served under
	AssetsPath = "/-/oauth/assets/"
	// ScriptPath is the URL of the login script
	ScriptPath = AssetsPath + "login-button.js"
)

//go:embed assets/login-button.js
var assets embed.FS

var scriptTag = []byte(`<script src="` + ScriptPath + `"></script>`)

// RegisterRoutes serves the embedded assets
func RegisterRoutes(router *mux.Router) {
	router.HandleFunc(ScriptPath, serveScript).Methods("GET", "HEAD")
}

func serveScript(w http.ResponseWriter, r *http.Request) {
	data, err := assets.ReadFile("assets/login-button.js")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

// InjectScript inserts the login script tag before the closing body tag, or
// appends it when the document has none. Documents that already reference the
// script are returned unchanged.
func InjectScript(html []byte) []byte {
	if bytes.Contains(html, scriptTag) {
		return html
	}

	idx := bytes.LastIndex(bytes.ToLower(html), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte(nil), html...), scriptTag...)
	}

	out := make([]byte, 0, len(html)+len(scriptTag))
	out = append(out, html[:idx]...)
	out = append(out, scriptTag...)
	out = append(out, html[idx:]...)
	return out
}

// ModifyResponse injects the login script into successful HTML responses. It
// has the signature of httputil.ReverseProxy.ModifyResponse.
func ModifyResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK || !isHTML(resp.Header.Get("Content-Type")) {
		return nil
	}

	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	if encoding != "" && encoding != "identity" && encoding != "gzip" {
		return nil
	}

	var reader io.Reader = resp.Body
	if encoding == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	resp.Body.Close()

	body = InjectScript(body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("ETag")

	return nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}
