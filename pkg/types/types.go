package types

import "time"

// Repo is one repository entry from the upstream listing.
type Repo struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	Stars    int    `json:"stargazers_count"`
}

// Owner is the organisation profile fetched once at startup.
type Owner struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	PublicRepos int    `json:"public_repos"`
}

// Status values carried by PageView.Status.
const (
	StatusOK    = "ok"
	StatusStale = "stale" // failed fetch, previous repos retained
	StatusError = "error"
)

// PageView is the published state of the page pipeline.
type PageView struct {
	// Page is the page whose fetch produced this view.
	Page int `json:"page"`

	// Repos is the last good result. With the retain policy it may belong to
	// an earlier page than Page when Error is set.
	Repos []Repo `json:"repos"`

	// Error is the failure of the latest fetch, empty on success.
	Error string `json:"error,omitempty"`

	Generation uint64    `json:"generation"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}
