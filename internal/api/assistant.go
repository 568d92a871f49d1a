package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/vocalis/internal/assistant"
	"github.com/MrWong99/vocalis/internal/fault"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/pkg/provider/llm"
)

// chatRequest is the JSON body of the chat endpoints.
type chatRequest struct {
	Text          string        `json:"text"`
	SpeakerID     *string       `json:"speaker_id"`
	Language      *string       `json:"language"`
	GenerateAudio *bool         `json:"generate_audio"`
	History       []llm.Message `json:"history"`
}

func (c chatRequest) turn() (assistant.Request, error) {
	if c.Text == "" {
		return assistant.Request{}, fault.Input("text must not be empty")
	}
	if err := validateHistory(c.History); err != nil {
		return assistant.Request{}, err
	}
	req := assistant.Request{
		Text:          c.Text,
		Language:      assistant.DefaultLanguage,
		GenerateAudio: true,
		History:       c.History,
	}
	if c.SpeakerID != nil {
		req.SpeakerID = *c.SpeakerID
	}
	if c.Language != nil && *c.Language != "" {
		req.Language = *c.Language
	}
	if c.GenerateAudio != nil {
		req.GenerateAudio = *c.GenerateAudio
	}
	return req, nil
}

func validateHistory(history []llm.Message) error {
	for i, m := range history {
		if err := m.Validate(); err != nil {
			return fault.Input(fmt.Sprintf("Invalid history item %d: %v", i, err))
		}
	}
	return nil
}

func (s *Server) decodeChat(r *http.Request) (assistant.Request, error) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil {
		return assistant.Request{}, err
	}
	return body.turn()
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeChat(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.assistant.Turn(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeChat(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev := range s.assistant.Stream(r.Context(), req) {
		if err := enc.Encode(ev); err != nil {
			observe.Logger(r.Context()).Debug("stream client went away", "error", err)
			// Stream exits on ctx cancellation; keep draining until it does.
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleTranscribeAndChat(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		writeError(w, r, err)
		return
	}
	file, hdr, err := audioPart(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	ext := filepath.Ext(hdr.Filename)
	if ext == "" {
		ext = ".wav"
	}
	path := filepath.Join(s.cfg.UploadsDir, strings.ReplaceAll(uuid.NewString(), "-", "")+ext)
	size, err := saveUpload(path, file)
	defer os.Remove(path)
	if err != nil {
		writeError(w, r, fault.Wrap(err, fault.KindInternal))
		return
	}
	if size == 0 {
		writeError(w, r, fault.Input("Audio file is empty"))
		return
	}

	history, err := parseHistoryJSON(r.FormValue("history_json"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := assistant.Request{
		AudioPath:     path,
		SpeakerID:     r.FormValue("speaker_id"),
		Language:      assistant.DefaultLanguage,
		GenerateAudio: true,
		History:       history,
	}
	if lang := r.FormValue("language"); lang != "" {
		req.Language = lang
	}
	if v := r.FormValue("generate_audio"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, fault.Input("generate_audio must be a boolean"))
			return
		}
		req.GenerateAudio = b
	}

	res, err := s.assistant.Turn(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func saveUpload(path string, src io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("api: create upload: %w", err)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("api: write upload: %w", err)
	}
	return n, nil
}

// parseHistoryJSON decodes the history_json form field of voice turns.
func parseHistoryJSON(raw string) ([]llm.Message, error) {
	if raw == "" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		var probe any
		if json.Unmarshal([]byte(raw), &probe) == nil {
			return nil, fault.Input("history_json must be a list")
		}
		return nil, fault.Input("Invalid history_json")
	}
	history := make([]llm.Message, 0, len(items))
	for i, item := range items {
		var m llm.Message
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, fault.Input(fmt.Sprintf("Invalid history item %d: %v", i, err))
		}
		history = append(history, m)
	}
	if err := validateHistory(history); err != nil {
		return nil, err
	}
	return history, nil
}
