package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"tallyr.io/worklog/internal/auth"
	"tallyr.io/worklog/internal/core"
	"tallyr.io/worklog/internal/store"
)

type APIHandler struct {
	conversations *core.ConversationService
	db            *store.SQLiteStore
}

func NewAPIHandler(cs *core.ConversationService, db *store.SQLiteStore) *APIHandler {
	return &APIHandler{conversations: cs, db: db}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.db.GetUserByExternalID(externalUserID)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", externalUserID, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}

		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "userID", user.ID)
		ctx = context.WithValue(ctx, "externalUserID", user.ExternalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.UserID, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.db.CreateUser(req.UserID, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.UserID, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.db.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(req.UserID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.UserID, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (h *APIHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	user, err := h.db.GetUserByID(userID)
	if err != nil {
		log.Printf("Error loading profile for user %d: %v", userID, err)
		http.Error(w, "Failed to load profile", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(user)
}

type UpdateProfileRequest struct {
	Industry         string `json:"industry"`
	EmploymentStatus string `json:"employment_status"`
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.db.UpdateUserProfile(userID, req.Industry, req.EmploymentStatus); err != nil {
		log.Printf("Error updating profile for user %d: %v", userID, err)
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	user, err := h.db.GetUserByID(userID)
	if err != nil {
		log.Printf("Error reloading profile for user %d: %v", userID, err)
		http.Error(w, "Failed to load profile", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(user)
}

type CreateTargetRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	TargetValue *float64   `json:"target_value"`
	Unit        string     `json:"unit"`
	Deadline    *time.Time `json:"deadline"`
}

var validTargetTypes = map[string]bool{"kpi": true, "ksb": true, "sales": true, "general": true}

func (h *APIHandler) CreateTargetHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req CreateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "Target name is required", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = "general"
	}
	if !validTargetTypes[req.Type] {
		http.Error(w, "Target type must be one of kpi, ksb, sales, general", http.StatusBadRequest)
		return
	}

	target := &store.Target{
		UserID:      userID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Type:        req.Type,
		TargetValue: req.TargetValue,
		Unit:        req.Unit,
		Deadline:    req.Deadline,
		Status:      store.TargetStatusActive,
	}
	if err := h.db.CreateTarget(target); err != nil {
		log.Printf("Error creating target for user %d: %v", userID, err)
		http.Error(w, "Failed to create target", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(target)
}

func (h *APIHandler) ListTargetsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	activeOnly := r.URL.Query().Get("all") != "true"

	targets, err := h.db.GetTargetsByUserID(userID, activeOnly)
	if err != nil {
		log.Printf("Error listing targets for user %d: %v", userID, err)
		http.Error(w, "Failed to list targets", http.StatusInternalServerError)
		return
	}
	if targets == nil {
		targets = []store.Target{}
	}
	json.NewEncoder(w).Encode(targets)
}

func (h *APIHandler) ArchiveTargetHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	targetID := chi.URLParam(r, "targetID")

	target, err := h.db.GetTargetByID(targetID, userID)
	if err != nil {
		log.Printf("Error loading target %s for user %d: %v", targetID, userID, err)
		http.Error(w, "Failed to archive target", http.StatusInternalServerError)
		return
	}
	if target == nil {
		http.Error(w, "Target not found", http.StatusNotFound)
		return
	}

	if err := h.db.ArchiveTarget(targetID, userID); err != nil {
		log.Printf("Error archiving target %s for user %d: %v", targetID, userID, err)
		http.Error(w, "Failed to archive target", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	st, err := h.conversations.GetState(r.Context(), userID)
	if err != nil {
		h.writeConversationError(w, err, userID)
		return
	}
	json.NewEncoder(w).Encode(st)
}

type ConversationMessageRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) PostConversationMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req ConversationMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message cannot be empty", http.StatusBadRequest)
		return
	}

	st, err := h.conversations.SendMessage(r.Context(), userID, strings.TrimSpace(req.Message))
	if err != nil {
		h.writeConversationError(w, err, userID)
		return
	}
	json.NewEncoder(w).Encode(st)
}

func (h *APIHandler) SkipToSummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	st, err := h.conversations.SkipToSummary(r.Context(), userID)
	if err != nil {
		h.writeConversationError(w, err, userID)
		return
	}
	json.NewEncoder(w).Encode(st)
}

func (h *APIHandler) UndoExchangeHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	st, err := h.conversations.UndoLastExchange(r.Context(), userID)
	if err != nil {
		h.writeConversationError(w, err, userID)
		return
	}
	json.NewEncoder(w).Encode(st)
}

func (h *APIHandler) UpdateDraftHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var draft core.SummaryDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	st, err := h.conversations.UpdateDraft(r.Context(), userID, &draft)
	if err != nil {
		h.writeConversationError(w, err, userID)
		return
	}
	json.NewEncoder(w).Encode(st)
}

type AcceptSummaryResponse struct {
	Entry *store.WorkEntry        `json:"entry"`
	State *core.ConversationState `json:"conversation"`
}

func (h *APIHandler) AcceptSummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	entry, st, err := h.conversations.AcceptSummary(r.Context(), userID)
	if err != nil {
		h.writeConversationError(w, err, userID)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AcceptSummaryResponse{Entry: entry, State: st})
}

func (h *APIHandler) ResetConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	if err := h.conversations.ResetConversation(r.Context(), userID); err != nil {
		h.writeConversationError(w, err, userID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListWorkEntriesHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	entries, err := h.db.GetWorkEntriesByUserID(userID)
	if err != nil {
		log.Printf("Error listing work entries for user %d: %v", userID, err)
		http.Error(w, "Failed to list work entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.WorkEntry{}
	}
	json.NewEncoder(w).Encode(entries)
}

type WorkEntryDetailsResponse struct {
	*store.WorkEntry
	TargetMappings []store.WorkEntryTarget `json:"target_mappings"`
}

func (h *APIHandler) GetWorkEntryHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	entryID := chi.URLParam(r, "entryID")

	entry, err := h.db.GetWorkEntryByID(entryID, userID)
	if err != nil {
		log.Printf("Error getting work entry %s for user %d: %v", entryID, userID, err)
		http.Error(w, "Failed to get work entry", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "Work entry not found", http.StatusNotFound)
		return
	}

	mappings, err := h.db.GetWorkEntryTargets(entryID)
	if err != nil {
		log.Printf("Error getting mappings for entry %s: %v", entryID, err)
		mappings = nil
	}
	if mappings == nil {
		mappings = []store.WorkEntryTarget{}
	}

	json.NewEncoder(w).Encode(WorkEntryDetailsResponse{WorkEntry: entry, TargetMappings: mappings})
}

func (h *APIHandler) DeleteWorkEntryHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)
	entryID := chi.URLParam(r, "entryID")

	err := h.conversations.DeleteWorkEntry(r.Context(), userID, entryID)
	if err != nil {
		if errors.Is(err, core.ErrWorkEntryNotFound) {
			http.Error(w, "Work entry not found", http.StatusNotFound)
			return
		}
		log.Printf("Error deleting work entry %s for user %d: %v", entryID, userID, err)
		http.Error(w, "Failed to delete work entry", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeConversationError maps pipeline errors onto status codes: state
// violations are the client's problem, generation failures are upstream's.
func (h *APIHandler) writeConversationError(w http.ResponseWriter, err error, userID int64) {
	switch {
	case errors.Is(err, core.ErrConversationBusy),
		errors.Is(err, core.ErrNotAcceptingMessages),
		errors.Is(err, core.ErrNothingToSummarize),
		errors.Is(err, core.ErrNoDraftToAccept):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrGenerationFailed):
		log.Printf("Generation failure for user %d: %v", userID, err)
		http.Error(w, "The assistant is temporarily unavailable, please retry", http.StatusServiceUnavailable)
	default:
		log.Printf("Conversation error for user %d: %v", userID, err)
		http.Error(w, "Failed to process conversation request", http.StatusInternalServerError)
	}
}
