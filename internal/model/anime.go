package model

import (
	"fmt"
	"strings"
	"time"
)

// ListStatus is stored upper case and travels lower case in JSON.
type ListStatus string

const (
	ListWatching  ListStatus = "WATCHING"
	ListPlanning  ListStatus = "PLANNING"
	ListCompleted ListStatus = "COMPLETED"
	ListDropped   ListStatus = "DROPPED"
)

func ParseListStatus(s string) (ListStatus, error) {
	ls := ListStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch ls {
	case ListWatching, ListPlanning, ListCompleted, ListDropped:
		return ls, nil
	}
	return "", fmt.Errorf("invalid list status %q", s)
}

func (s ListStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(string(s))), nil
}

func (s *ListStatus) UnmarshalText(b []byte) error {
	ls, err := ParseListStatus(string(b))
	if err != nil {
		return err
	}
	*s = ls
	return nil
}

type Anime struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"userId"`
	MalID           int64      `json:"malId"`
	Title           string     `json:"title"`
	ImageURL        string     `json:"imageUrl"`
	ListStatus      ListStatus `json:"listStatus"`
	Type            string     `json:"type"`
	Source          string     `json:"source"`
	Episodes        int        `json:"episodes"`
	MalScore        float64    `json:"malScore"`
	Status          string     `json:"status"`
	EpisodesWatched int        `json:"episodesWatched"`
	Year            int        `json:"year"`
	Season          string     `json:"season"`
	Aired           string     `json:"aired"`
	Duration        string     `json:"duration"`
	Synopsis        string     `json:"synopsis"`
	Studios         []string   `json:"studios"`
	Genres          []string   `json:"genres"`
	Themes          []string   `json:"themes"`
	Demographics    []string   `json:"demographics"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
