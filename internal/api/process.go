package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/candela-labs/convoscope/internal/events"
	"github.com/candela-labs/convoscope/internal/pipeline"
)

// ProcessResponse is the synchronous reply to a process request: the
// user-facing answer plus the summary and export locations.
type ProcessResponse struct {
	Answer  string           `json:"answer"`
	Summary pipeline.Summary `json:"summary"`
}

// processConversation handles POST /api/v1/conversations/process. The
// body carries a full raw conversation (an event batch or pre-assembled
// steps); the pipeline runs inline and the response includes export URLs.
func (s *Server) processConversation(w http.ResponseWriter, r *http.Request) {
	var evt events.CompletedEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid JSON: %v"}`, err), http.StatusBadRequest)
		return
	}
	if evt.UserQuery == "" {
		http.Error(w, `{"error":"user_query is required"}`, http.StatusBadRequest)
		return
	}

	conv, rawAnswer := events.Assemble(&evt, s.logger)
	result := s.pipeline.Process(r.Context(), conv, rawAnswer)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ProcessResponse{
		Answer:  result.Answer,
		Summary: result.Summary(),
	})
}
