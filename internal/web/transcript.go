package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
)

// markdown renders transcript bodies. Message content is markdown by
// convention (models emit it freely), so the transcript view converts
// it once on the way out.
var markdown = goldmark.New()

// handleTranscript renders the conversation as HTML. Pass ?format=json
// for the raw message list instead.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	msgs := s.engine.Messages()

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, msgs, s.logger)
		return
	}

	var doc strings.Builder
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		fmt.Fprintf(&doc, "**%s**\n\n%s\n\n---\n\n", m.Role, m.Content)
	}

	var html strings.Builder
	html.WriteString("<!DOCTYPE html><html><head><title>Arbiter transcript</title></head><body>")
	if err := markdown.Convert([]byte(doc.String()), &html); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("render: %v", err), s.logger)
		return
	}
	html.WriteString("</body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(html.String())); err != nil {
		s.logger.Debug("failed to write transcript", "error", err)
	}
}
