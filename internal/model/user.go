package model

// UserSummary is the author information embedded in posts.
type UserSummary struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Session is the logged-in user and their access token.
type Session struct {
	User  UserSummary `json:"user"`
	Token string      `json:"token"`
}

type LoginRequest struct {
	UserID    int64  `json:"userId"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}
