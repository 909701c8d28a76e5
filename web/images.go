package web

import (
	"image/png"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ImageInfo describes one image in the gallery
type ImageInfo struct {
	ID    int
	Label string
	Text  string
	Wrong bool
}

// Images returns the gallery entries. If predictions are set then misclassified images are
// flagged with the predicted class.
func (s *Server) Images() []ImageInfo {
	if s.data == nil {
		return nil
	}
	n := s.data.Len()
	if s.MaxImages > 0 && n > s.MaxImages {
		n = s.MaxImages
	}
	info := make([]ImageInfo, n)
	for i := range info {
		label := s.className(int(s.data.Labels[i]))
		info[i] = ImageInfo{ID: i, Label: label, Text: label}
		if i < len(s.pred) && s.pred[i] != s.data.Labels[i] {
			info[i].Wrong = true
			info[i].Text = label + " => " + s.className(int(s.pred[i]))
		}
	}
	return info
}

func (s *Server) className(i int) string {
	if classes := s.data.Classes(); i >= 0 && i < len(classes) {
		return classes[i]
	}
	return strconv.Itoa(i)
}

// Handler function for the image data
func (s *Server) imageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || s.data == nil || id < 0 || id >= s.data.Len() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, s.data.Display(id)); err != nil {
		logError(w, err)
	}
}
