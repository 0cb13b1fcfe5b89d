package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/lendloop/realtime/internal/auth"
	"github.com/lendloop/realtime/internal/database"
	"github.com/lendloop/realtime/internal/types"
	"github.com/samber/lo"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

type CreateConversationRequest struct {
	RecipientId string `json:"recipient_id" validate:"required,max=128"`
	ItemId      string `json:"item_id" validate:"omitempty,max=128"`
}

type MarkReadResponse struct {
	Marked int `json:"marked"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("json encode", zap.Error(err))
	}
}

func (s *App) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(errResp))
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *App) createConversation(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.RecipientId = strings.TrimSpace(req.RecipientId)
	req.ItemId = strings.TrimSpace(req.ItemId)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, NewValidationError("recipient_id is required and ids must be at most 128 characters"))
		return
	}

	if req.RecipientId == id.UserId {
		s.writeError(w, NewValidationError("cannot start a conversation with yourself"))
		return
	}

	sid, err := shortid.Generate()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	conv, created, err := s.db.CreateConversation(r.Context(), database.CreateConversationParams{
		Id:           sid,
		Participants: [2]string{id.UserId, req.RecipientId},
		ItemId:       req.ItemId,
	})
	if err != nil {
		if errors.Is(err, database.ErrInvalidParticipants) {
			s.writeError(w, NewValidationError(err.Error()))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	pub := conv.Public()
	if !created {
		s.writeJson(w, http.StatusOK, pub)
		return
	}

	if s.router != nil {
		s.router.NotifyNewConversation(types.User{Id: id.UserId, DisplayName: id.DisplayName}, req.RecipientId, pub)
	}

	s.writeJson(w, http.StatusCreated, pub)
}

func (s *App) listConversations(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	convs, err := s.db.ListConversations(r.Context(), id.UserId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(convs, func(c database.Conversation, _ int) types.Conversation {
		return c.Public()
	}))
}

// participantConversation loads the conversation named in the path and
// checks the caller belongs to it. It writes the error response itself.
func (s *App) participantConversation(w http.ResponseWriter, r *http.Request) (database.Conversation, bool) {
	id, _ := auth.IdentityFromContext(r.Context())

	conv, err := s.db.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return database.Conversation{}, false
	}

	if !conv.HasParticipant(id.UserId) {
		s.writeError(w, NewForbiddenError())
		return database.Conversation{}, false
	}

	return conv, true
}

func (s *App) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.participantConversation(w, r)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, conv.Public())
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}

	// seq ids and limits are INTEGER columns
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > math.MaxInt32 {
		return 0, errors.New(key + " must be a non-negative 32-bit integer")
	}
	return n, nil
}

func (s *App) getMessages(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt(r, "after")
	if err != nil {
		s.writeError(w, NewValidationError(err.Error()))
		return
	}

	before, err := queryInt(r, "before")
	if err != nil {
		s.writeError(w, NewValidationError(err.Error()))
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, NewValidationError(err.Error()))
		return
	}

	conv, ok := s.participantConversation(w, r)
	if !ok {
		return
	}

	messages, err := s.db.GetMessages(r.Context(), conv.Id, after, before, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(messages, func(m database.Message, _ int) types.Message {
		return m.Public()
	}))
}

func (s *App) markRead(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	conv, ok := s.participantConversation(w, r)
	if !ok {
		return
	}

	n, err := s.db.MarkMessagesRead(r.Context(), conv.Id, id.UserId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, MarkReadResponse{Marked: n})
}
