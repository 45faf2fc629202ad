package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/risto-app/risto/internal/auth"
	"github.com/risto-app/risto/internal/model"
	"github.com/risto-app/risto/internal/store"
	"github.com/risto-app/risto/internal/websocket"
)

const (
	defaultPageSize = 18
	maxPageSize     = 100
)

// AnimeHandler serves the signed-in user's watch list. Every route sits
// behind middleware.RequireAuth.
type AnimeHandler struct {
	animeStore *store.AnimeStore
	notifier   Notifier
	logger     *slog.Logger
}

func NewAnimeHandler(as *store.AnimeStore, notifier Notifier, logger *slog.Logger) *AnimeHandler {
	return &AnimeHandler{animeStore: as, notifier: notifier, logger: logger}
}

func (h *AnimeHandler) broadcast(userID int64, msg websocket.Message) {
	if h.notifier != nil {
		h.notifier.SendToUser(userID, msg)
	}
}

func (h *AnimeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	q := r.URL.Query()

	var status model.ListStatus
	if s := q.Get("status"); s != "" && s != "all" {
		ls, err := model.ParseListStatus(s)
		if err != nil {
			writeFieldErrors(w, http.StatusBadRequest, KindValidation, FieldError{Field: "status", Error: fieldMessages["status"]})
			return
		}
		status = ls
	}

	page, err := queryInt(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeFieldErrors(w, http.StatusBadRequest, KindValidation, FieldError{Field: "page", Error: "page must be at least 1."})
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		writeFieldErrors(w, http.StatusBadRequest, KindValidation, FieldError{Field: "limit", Error: "limit must be between 1 and 100."})
		return
	}

	// One extra row tells us whether another page exists.
	list, err := h.animeStore.List(r.Context(), userID, status, limit+1, (page-1)*limit)
	if err != nil {
		writeInternal(w, h.logger, "list anime", err)
		return
	}

	hasMore := len(list) > limit
	if hasMore {
		list = list[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"anime": list, "hasMore": hasMore})
}

type animeRequest struct {
	MalID           int64    `json:"malId" validate:"required,gt=0"`
	Title           string   `json:"title" validate:"required"`
	ImageURL        string   `json:"imageUrl"`
	Type            string   `json:"type"`
	Source          string   `json:"source"`
	Episodes        int      `json:"episodes" validate:"gte=0"`
	MalScore        float64  `json:"malScore" validate:"gte=0,lte=10"`
	Status          string   `json:"status"`
	EpisodesWatched int      `json:"episodesWatched" validate:"gte=0"`
	Year            int      `json:"year" validate:"gte=0"`
	Season          string   `json:"season"`
	Aired           string   `json:"aired"`
	Duration        string   `json:"duration"`
	Synopsis        string   `json:"synopsis"`
	Studios         []string `json:"studios"`
	Genres          []string `json:"genres"`
	Themes          []string `json:"themes"`
	Demographics    []string `json:"demographics"`
}

// Create adds an entry to the list. New entries always start as watching.
func (h *AnimeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req animeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.animeStore.Create(r.Context(), &model.Anime{
		UserID:          userID,
		MalID:           req.MalID,
		Title:           req.Title,
		ImageURL:        req.ImageURL,
		ListStatus:      model.ListWatching,
		Type:            req.Type,
		Source:          req.Source,
		Episodes:        req.Episodes,
		MalScore:        req.MalScore,
		Status:          req.Status,
		EpisodesWatched: req.EpisodesWatched,
		Year:            req.Year,
		Season:          req.Season,
		Aired:           req.Aired,
		Duration:        req.Duration,
		Synopsis:        req.Synopsis,
		Studios:         req.Studios,
		Genres:          req.Genres,
		Themes:          req.Themes,
		Demographics:    req.Demographics,
	})
	if errors.Is(err, store.ErrDuplicateAnime) {
		writeErrorMessage(w, http.StatusConflict, KindConflict, "This anime is already in your list.")
		return
	}
	if err != nil {
		writeInternal(w, h.logger, "create anime", err)
		return
	}

	h.broadcast(userID, websocket.NewMessage("anime", "created", a.ID, map[string]any{"malId": a.MalID}))
	writeJSON(w, http.StatusCreated, map[string]any{"newAnime": a})
}

// GetByMalID reports whether the user already tracks the given MAL entry.
func (h *AnimeHandler) GetByMalID(w http.ResponseWriter, r *http.Request) {
	malID, err := parseIDParam(r, "malId")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, KindValidation, "invalid id")
		return
	}

	a, err := h.animeStore.GetByMalID(r.Context(), auth.UserID(r.Context()), malID)
	if err != nil {
		writeInternal(w, h.logger, "get anime", err)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"hasAnime": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              a.ID,
		"listStatus":      a.ListStatus,
		"episodesWatched": a.EpisodesWatched,
	})
}

type updateAnimeRequest struct {
	Status  string `json:"status" validate:"required,oneof=watching planning completed dropped"`
	Episode *int   `json:"episode" validate:"omitempty,gte=0"`
}

func (h *AnimeHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, KindValidation, "invalid id")
		return
	}

	var req updateAnimeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	status, err := model.ParseListStatus(req.Status)
	if err != nil {
		writeFieldErrors(w, http.StatusBadRequest, KindValidation, FieldError{Field: "status", Error: fieldMessages["status"]})
		return
	}

	a, err := h.animeStore.UpdateProgress(r.Context(), userID, id, status, req.Episode)
	if err != nil {
		writeInternal(w, h.logger, "update anime", err)
		return
	}
	if a == nil {
		writeErrorMessage(w, http.StatusNotFound, KindNotFound, "anime not found")
		return
	}

	h.broadcast(userID, websocket.NewMessage("anime", "updated", a.ID, map[string]any{
		"listStatus":      a.ListStatus,
		"episodesWatched": a.EpisodesWatched,
	}))
	writeJSON(w, http.StatusOK, map[string]any{"updatedAnime": a})
}

func queryInt(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.Atoi(s)
}
