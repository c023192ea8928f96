package model

import "time"

// ChannelSettings is the shared configuration row used by the WhatsApp sends
// and the OCR calls.
type ChannelSettings struct {
	APIBaseURL string    `db:"api_base_url" json:"api_base_url"`
	AuthToken  string    `db:"auth_token" json:"-"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Complete reports whether both fields needed to call the provider are set.
func (s *ChannelSettings) Complete() bool {
	return s != nil && s.APIBaseURL != "" && s.AuthToken != ""
}
