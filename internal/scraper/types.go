package scraper

// Profile is the normalized result of get_profile (§4.5).
type Profile struct {
	UserID         string
	Username       string
	FollowerCount  int64
	FollowingCount int64
	MediaCount     int64
	IsVerified     bool
	IsPrivate      bool
	IsBusiness     bool
	Bio            string
	AvatarURL      string
	AvatarLocalPath *string
	RecentMedia    []Media
}

// Media is one entry of a profile's recent-media summary.
type Media struct {
	PK               string
	Shortcode        string
	IsVideo          bool
	TakenAt          int64
	CommentsDisabled bool
	CommentCount     int64
	ImageURL         string
}

// UserNode is one entry of a followers/followings page.
type UserNode struct {
	FollowerPK string
	Username   string
	FullName   string
	IsPrivate  bool
	IsVerified bool
	AvatarURL  string
}

// Comment is one collected comment, annotated with the post image it came
// from (§4.5 collect_comments).
type Comment struct {
	MediaPK  string
	Text     string
	Username string
	PostURL  string
	ImageURL string
}

// ListKind selects which GraphQL edge/query a get_user_list call targets.
type ListKind string

const (
	KindFollowers  ListKind = "followers"
	KindFollowings ListKind = "followings"
)
