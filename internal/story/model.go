package story

import "time"

const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
)

// Story is the joined row as listed to viewers: author display fields come
// via JOIN, ViewCount and ViewedByMe are computed per request.
type Story struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username"`
	DisplayName     string    `json:"display_name"`
	Content         string    `json:"content,omitempty"`
	StoryType       string    `json:"story_type"`
	FileURL         *string   `json:"file_url,omitempty"`
	BackgroundColor *string   `json:"background_color,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	ViewCount       int64     `json:"view_count"`
	ViewedByMe      bool      `json:"viewed_by_me"`
}

type CreateStoryRequest struct {
	Content         string  `json:"content" validate:"max=4096"`
	StoryType       string  `json:"story_type" validate:"required,oneof=text image video"`
	FileURL         *string `json:"file_url,omitempty"`
	BackgroundColor *string `json:"background_color,omitempty" validate:"omitempty,max=20"`
}
