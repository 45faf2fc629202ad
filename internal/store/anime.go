package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/risto-app/risto/internal/database"
	"github.com/risto-app/risto/internal/model"
)

type AnimeStore struct {
	q database.DBTX
}

func NewAnimeStore(q database.DBTX) *AnimeStore {
	return &AnimeStore{q: q}
}

func scanAnime(scanner interface{ Scan(...any) error }) (*model.Anime, error) {
	var a model.Anime
	var studios, genres, themes, demographics string
	err := scanner.Scan(
		&a.ID, &a.UserID, &a.MalID, &a.Title, &a.ImageURL, &a.ListStatus,
		&a.Type, &a.Source, &a.Episodes, &a.MalScore, &a.Status, &a.EpisodesWatched,
		&a.Year, &a.Season, &a.Aired, &a.Duration, &a.Synopsis,
		&studios, &genres, &themes, &demographics,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{studios, &a.Studios},
		{genres, &a.Genres},
		{themes, &a.Themes},
		{demographics, &a.Demographics},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode anime tags: %w", err)
		}
		if *f.dst == nil {
			*f.dst = []string{}
		}
	}
	return &a, nil
}

const animeCols = `id, user_id, mal_id, title, image_url, list_status, type, source, episodes,
	mal_score, status, episodes_watched, year, season, aired, duration, synopsis,
	studios, genres, themes, demographics, created_at, updated_at`

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode anime tags: %w", err)
	}
	return string(b), nil
}

// Create inserts a new list entry owned by a.UserID. a.ID is ignored.
func (s *AnimeStore) Create(ctx context.Context, a *model.Anime) (*model.Anime, error) {
	tags := make([]string, 4)
	for i, t := range [][]string{a.Studios, a.Genres, a.Themes, a.Demographics} {
		enc, err := encodeTags(t)
		if err != nil {
			return nil, err
		}
		tags[i] = enc
	}
	now := time.Now().UTC()
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO anime (user_id, mal_id, title, image_url, list_status, type, source, episodes,
			mal_score, status, episodes_watched, year, season, aired, duration, synopsis,
			studios, genres, themes, demographics, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.MalID, a.Title, a.ImageURL, string(a.ListStatus), a.Type, a.Source, a.Episodes,
		a.MalScore, a.Status, a.EpisodesWatched, a.Year, a.Season, a.Aired, a.Duration, a.Synopsis,
		tags[0], tags[1], tags[2], tags[3], now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert anime: mal id %d already on list: %w", a.MalID, ErrDuplicateAnime)
		}
		return nil, fmt.Errorf("insert anime: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, a.UserID, id)
}

// GetByID returns the entry only if it belongs to userID.
func (s *AnimeStore) GetByID(ctx context.Context, userID, id int64) (*model.Anime, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+animeCols+` FROM anime WHERE id = ? AND user_id = ?`, id, userID)
	a, err := scanAnime(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get anime: %w", err)
	}
	return a, nil
}

func (s *AnimeStore) GetByMalID(ctx context.Context, userID, malID int64) (*model.Anime, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+animeCols+` FROM anime WHERE mal_id = ? AND user_id = ?`, malID, userID)
	a, err := scanAnime(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get anime by mal id: %w", err)
	}
	return a, nil
}

// List returns up to limit entries for userID, most recently updated first.
// An empty status matches every list status.
func (s *AnimeStore) List(ctx context.Context, userID int64, status model.ListStatus, limit, offset int) ([]model.Anime, error) {
	query := `SELECT ` + animeCols + ` FROM anime WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND list_status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list anime: %w", err)
	}
	defer rows.Close()

	list := []model.Anime{}
	for rows.Next() {
		a, err := scanAnime(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anime: %w", err)
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// UpdateProgress sets the list status and, when episode is non-nil, the
// watched count. It returns (nil, nil) when no entry with id belongs to userID.
func (s *AnimeStore) UpdateProgress(ctx context.Context, userID, id int64, status model.ListStatus, episode *int) (*model.Anime, error) {
	var res sql.Result
	var err error
	now := time.Now().UTC()
	if episode != nil {
		res, err = s.q.ExecContext(ctx,
			`UPDATE anime SET list_status = ?, episodes_watched = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			string(status), *episode, now, id, userID)
	} else {
		res, err = s.q.ExecContext(ctx,
			`UPDATE anime SET list_status = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			string(status), now, id, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("update anime: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, userID, id)
}
