package model

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	StatusSubmitted RunStatus = "submitted"
	StatusReview    RunStatus = "review"
	StatusApproved  RunStatus = "approved"
	StatusPosting   RunStatus = "posting"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Mode selects whether generated content waits for a human.
type Mode string

const (
	ModeReview Mode = "review"
	ModeAuto   Mode = "auto"
)

// ContentType is the shape of generated output.
type ContentType string

const (
	TypeThread ContentType = "thread"
	TypeSingle ContentType = "single"
)

// TweetRole separates numbered thread content from the trailing citation reply.
type TweetRole string

const (
	RoleContent   TweetRole = "content"
	RoleReference TweetRole = "reference"
)

// Account is a connected X account. Tokens are stored sealed.
type Account struct {
	ID            int64
	Handle        string
	Provider      string
	TokenSealed   string
	RefreshSealed string
	Scopes        string
	CreatedAt     time.Time
}

// Settings are the per-submission generation options persisted with a Run.
type Settings struct {
	Style      string `json:"style,omitempty"`
	Hook       bool   `json:"hook,omitempty"`
	Extractive bool   `json:"extractive,omitempty"`
	Image      bool   `json:"image,omitempty"`
	Reference  string `json:"reference,omitempty"`
	UTM        string `json:"utm,omitempty"`
	ThreadCap  int    `json:"thread_cap,omitempty"`
	SingleCap  int    `json:"single_cap,omitempty"`
}

// Run is one submission's lifecycle record.
type Run struct {
	ID           int64
	SubmittedAt  time.Time
	AccountID    int64
	URL          string
	CanonicalURL string
	Mode         Mode
	Type         ContentType
	Settings     Settings
	Status       RunStatus
	CostEstimate float64
	TokensIn     int
	TokensOut    int
	ErrorMessage string
	ScrapedTitle string
	ScrapedText  string
	WordCount    int

	Tweets []Tweet
}

// ContentTweets returns the numbered thread items in index order.
func (r Run) ContentTweets() []Tweet {
	out := make([]Tweet, 0, len(r.Tweets))
	for _, t := range r.Tweets {
		if t.Role == RoleContent {
			out = append(out, t)
		}
	}
	return out
}

// ReferenceTweet returns the citation reply, if any.
func (r Run) ReferenceTweet() (Tweet, bool) {
	for _, t := range r.Tweets {
		if t.Role == RoleReference {
			return t, true
		}
	}
	return Tweet{}, false
}

// Tweet is one unit of content belonging to a Run.
type Tweet struct {
	ID            int64
	RunID         int64
	Idx           int
	Role          TweetRole
	Text          string
	MediaAlt      string
	PostedTweetID string
	Permalink     string
	PostedAt      *time.Time
}

// Posted reports whether the platform assigned an identifier.
func (t Tweet) Posted() bool { return t.PostedTweetID != "" }

// Image is a hero image picked for a Run.
type Image struct {
	ID        int64
	RunID     int64
	SourceURL string
	Width     int
	Height    int
	Used      bool
}

// APIToken is a bcrypt-hashed bearer token for the HTTP API.
type APIToken struct {
	ID         int64
	Label      string
	TokenHash  string
	CreatedAt  time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// Permalink builds the public status URL for a posted tweet.
func Permalink(handle, tweetID string) string {
	return "https://x.com/" + handle + "/status/" + tweetID
}
