package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fitflow/retention/internal/domain"
	"github.com/fitflow/retention/internal/pkg/httputil"
	"github.com/fitflow/retention/internal/pkg/pii"
)

// handleLookupMember resolves a member from a contact lookup hash. Callers
// holding plaintext may pass contact instead; it is hashed here and
// discarded, so only the hash ever reaches storage.
func (s *Server) handleLookupMember(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		if contact := r.URL.Query().Get("contact"); contact != "" {
			hash = pii.Hash(contact)
		}
	}
	if hash == "" {
		httputil.BadRequest(w, "hash or contact query param is required")
		return
	}

	member, err := s.directory.FindMemberByContactHash(r.Context(), orgID(r), hash)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, member)
}

func (s *Server) handleGetCommunicationPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.playbooks.EffectiveCommunicationPolicy(r.Context(), orgID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, policy)
}

func (s *Server) handlePutCommunicationPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.playbooks.EffectiveCommunicationPolicy(r.Context(), orgID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Decode over the effective policy so omitted fields keep their
	// current values.
	if !httputil.Decode(w, r, &policy) {
		return
	}
	policy.OrganizationID = orgID(r)

	if err := s.playbooks.SaveCommunicationPolicy(r.Context(), policy); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, policy)
}

type optOutRequest struct {
	Channel domain.Channel     `json:"channel"`
	Scope   domain.OptOutScope `json:"scope"`
}

func (s *Server) handleOptOut(w http.ResponseWriter, r *http.Request) {
	var req optOutRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Channel == "" {
		httputil.BadRequest(w, "channel is required")
		return
	}
	if req.Scope == "" {
		req.Scope = domain.OptOutMember
	}

	memberID := chi.URLParam(r, "memberID")
	if err := s.playbooks.OptOut(r.Context(), orgID(r), memberID, req.Channel, req.Scope); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) handleListMemberMessages(w http.ResponseWriter, r *http.Request) {
	params := ParsePagination(r, 50, 200)
	messages, err := s.messages.ListForMember(r.Context(), orgID(r), chi.URLParam(r, "memberID"), params.Limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Data(w, messages)
}
