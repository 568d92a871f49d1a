package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MrWong99/vocalis/internal/artifact"
	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/internal/observe"
)

type enrollResponse struct {
	SpeakerID      string `json:"speaker_id"`
	ReferenceAudio string `json:"reference_audio"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		writeError(w, r, err)
		return
	}
	speakerID := r.FormValue("speaker_id")
	if speakerID == "" {
		writeError(w, r, fault.Input("speaker_id is required"))
		return
	}
	file, hdr, err := audioPart(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fault.Input("Could not read audio upload"))
		return
	}
	if len(data) == 0 {
		writeError(w, r, fault.Input("Audio file is empty"))
		return
	}
	filename := hdr.Filename
	if filename == "" {
		filename = "reference.wav"
	}
	p, err := s.speakers.Enroll(speakerID, filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollResponse{SpeakerID: speakerID, ReferenceAudio: p.ReferencePath})
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	list, err := s.speakers.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rc, err := s.artifacts.Open(r.Context(), name)
	if errors.Is(err, artifact.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "Not Found"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		observe.Logger(r.Context()).Warn("artifact copy aborted", "name", name, "error", err)
	}
}

// parseMultipart reads a multipart body bounded by MaxUploadBytes.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fault.Input("Audio file is too large")
		}
		return fault.Input("Invalid multipart form: " + err.Error())
	}
	return nil
}

// audioPart returns the "audio" file of a parsed multipart form. The part's
// content type must be absent, audio/* or application/octet-stream.
func audioPart(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	file, hdr, err := r.FormFile("audio")
	if err != nil {
		return nil, nil, fault.Input("audio file is required")
	}
	if ct := hdr.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "audio/") && !strings.HasPrefix(ct, "application/octet-stream") {
		file.Close()
		return nil, nil, fault.Input("Only audio files are allowed. Got: " + ct)
	}
	return file, hdr, nil
}
