package server

import (
	"net/http"

	"github.com/PolarWolf314/muna/internal/directory"
)

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) error {
	var req directory.PublishRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	version, err := s.backend.Publish(r.Context(), r.PathValue("user"), req.PublicKey, req.Suite)
	if err != nil {
		return err
	}
	s.log.Infof("Published key version %d for %s", version, r.PathValue("user"))
	writeJSON(w, http.StatusOK, directory.PublishResponse{Version: version})
	return nil
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) error {
	key, err := s.backend.Fetch(r.Context(), r.PathValue("user"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, key)
	return nil
}

func (s *Server) handleFetchVersion(w http.ResponseWriter, r *http.Request) error {
	version, err := intParam(r, "version")
	if err != nil {
		return err
	}
	key, err := s.backend.FetchVersion(r.Context(), r.PathValue("user"), version)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, key)
	return nil
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) error {
	var req directory.DeactivateRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if err := s.backend.Deactivate(r.Context(), r.PathValue("user"), req.BelowVersion); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) error {
	epoch, err := intParam(r, "epoch")
	if err != nil {
		return err
	}
	var rec directory.ConversationKeyRecord
	if err := decodeBody(r, &rec); err != nil {
		return err
	}
	if rec.ConversationID != r.PathValue("conv") || rec.UserID != r.PathValue("user") || rec.Epoch != epoch {
		return badRequest{"record does not match request path"}
	}
	if err := s.backend.Upsert(r.Context(), rec); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleFetchLatest(w http.ResponseWriter, r *http.Request) error {
	rec, err := s.backend.FetchLatest(r.Context(), r.PathValue("conv"), r.PathValue("user"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

func (s *Server) handleFetchEpoch(w http.ResponseWriter, r *http.Request) error {
	epoch, err := intParam(r, "epoch")
	if err != nil {
		return err
	}
	rec, err := s.backend.FetchEpoch(r.Context(), r.PathValue("conv"), r.PathValue("user"), epoch)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

func (s *Server) handleLatestEpoch(w http.ResponseWriter, r *http.Request) error {
	epoch, err := s.backend.LatestEpoch(r.Context(), r.PathValue("conv"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, directory.LatestEpochResponse{Epoch: epoch})
	return nil
}

func (s *Server) handleListEpoch(w http.ResponseWriter, r *http.Request) error {
	epoch, err := intParam(r, "epoch")
	if err != nil {
		return err
	}
	recs, err := s.backend.ListEpoch(r.Context(), r.PathValue("conv"), epoch)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []directory.ConversationKeyRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
	return nil
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) error {
	members, err := s.backend.Members(r.Context(), r.PathValue("conv"))
	if err != nil {
		return err
	}
	if members == nil {
		members = []string{}
	}
	writeJSON(w, http.StatusOK, directory.MembersDocument{Members: members})
	return nil
}

func (s *Server) handleSetMembers(w http.ResponseWriter, r *http.Request) error {
	var doc directory.MembersDocument
	if err := decodeBody(r, &doc); err != nil {
		return err
	}
	if err := s.backend.SetMembers(r.Context(), r.PathValue("conv"), doc.Members); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
