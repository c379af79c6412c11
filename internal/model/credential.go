package model

import "time"

// OAuthCredential is a Slack user's stored Google authorization.
type OAuthCredential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}
