// Package scraper implements the high-level per-username Instagram
// workflows (§4.5): profile lookup, paginated follower/following
// traversal, mutual-follower intersection, recent media, and comment
// collection. It composes the resilient HTTP client (C1), rate limiter
// (C4) and credential rotator (C3) the same way the teacher's
// internal/github composes its HTTP manager with defensive response
// parsing; the JSON here is tolerant by construction (see decode.go)
// because the upstream shapes are not contractually stable.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/instarelay/instacore/internal/apperr"
	"github.com/instarelay/instacore/internal/credential"
	"github.com/instarelay/instacore/internal/logger"
)

// HTTPDoer is the subset of httpclient.Client the orchestrator needs.
type HTTPDoer interface {
	Do(ctx context.Context, endpoint string, build func(ctx context.Context, pair *credential.Pair) (*http.Request, error)) ([]byte, error)
}

// BlobStore is the subset of blobstore.Store the orchestrator needs.
type BlobStore interface {
	SaveProfileAvatar(ctx context.Context, username, url string) *string
	SavePostImage(ctx context.Context, postID, url string) *string
}

// Pager paces calls between pages of a paginated traversal (C4).
type Pager interface {
	Wait(ctx context.Context) error
}

// CommentFallback is the optional session-id login path for comment
// collection (§4.5, §9 Open Question 3): when the cookie-based mobile and
// web endpoints both come back empty, a fallback implementation gets one
// more shot at the same media via a private authenticated session. No
// concrete implementation in this repo speaks Instagram's session-id login
// flow, so NullCommentFallback stands in until one is wired.
type CommentFallback interface {
	FetchComments(ctx context.Context, mediaPK string, limit int) ([]Comment, error)
}

// NullCommentFallback reports no fallback comments, identical to having no
// fallback wired at all.
type NullCommentFallback struct{}

func (NullCommentFallback) FetchComments(ctx context.Context, mediaPK string, limit int) ([]Comment, error) {
	return nil, nil
}

const (
	baseWebURL    = "https://www.instagram.com"
	baseMobileURL = "https://i.instagram.com"
)

// Orchestrator implements the C5 operations.
type Orchestrator struct {
	http     HTTPDoer
	blobs    BlobStore
	pacer    Pager
	fallback CommentFallback
}

// New creates an Orchestrator. The comment fallback is disabled by
// default; call SetCommentFallback to wire one in.
func New(doer HTTPDoer, blobs BlobStore, pacer Pager) *Orchestrator {
	return &Orchestrator{http: doer, blobs: blobs, pacer: pacer}
}

// SetCommentFallback wires a session-id login fallback in, gated by the
// CommentFallbackEnabled config flag at the call site.
func (o *Orchestrator) SetCommentFallback(fb CommentFallback) {
	o.fallback = fb
}

// NormalizeUsername lowercases and strips a leading '@' (§4.5 ordering
// policy); every lookup and cache key goes through this first.
func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")
	return strings.ToLower(username)
}

// GetProfile fetches and normalizes a profile, including its avatar via
// the blob store.
func (o *Orchestrator) GetProfile(ctx context.Context, username string) (*Profile, error) {
	username = NormalizeUsername(username)

	body, err := o.http.Do(ctx, "profile_info", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/v1/users/web_profile_info/?username=%s", baseWebURL, url.QueryEscape(username)), nil)
		if err != nil {
			return nil, err
		}
		applyMobileHeaders(req, pair, username)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.New(apperr.KindServerError, "failed to decode profile response", err)
	}

	user := asMap(dig(payload, "data", "user"))
	if user == nil {
		return nil, apperr.New(apperr.KindValidation, "profile not found", nil)
	}

	profile := &Profile{
		UserID:         asString(user["id"]),
		Username:       username,
		FollowerCount:  asInt64(dig(user, "edge_followed_by", "count")),
		FollowingCount: asInt64(dig(user, "edge_follow", "count")),
		MediaCount:     asInt64(dig(user, "edge_owner_to_timeline_media", "count")),
		IsVerified:     asBool(user["is_verified"]),
		IsPrivate:      asBool(user["is_private"]),
		IsBusiness:     asBool(user["is_business_account"]),
		Bio:            asString(user["biography"]),
		AvatarURL:      asString(user["profile_pic_url_hd"]),
	}
	if profile.AvatarURL == "" {
		profile.AvatarURL = asString(user["profile_pic_url"])
	}

	for _, edge := range asSlice(dig(user, "edge_owner_to_timeline_media", "edges")) {
		node := asMap(asMap(edge)["node"])
		if node == nil {
			continue
		}
		profile.RecentMedia = append(profile.RecentMedia, decodeMediaNode(node))
	}

	if profile.AvatarURL != "" && o.blobs != nil {
		profile.AvatarLocalPath = o.blobs.SaveProfileAvatar(ctx, username, profile.AvatarURL)
	}

	return profile, nil
}

// userListPage is one page of a GetUserList traversal.
type userListPage struct {
	nodes     []UserNode
	hasNext   bool
	endCursor string
}

// GetUserList paginates followers/followings for userID, stopping at
// maxCount or when the upstream reports no next page (§4.5).
func (o *Orchestrator) GetUserList(ctx context.Context, userID string, kind ListKind, maxCount int) ([]UserNode, error) {
	if maxCount < 1 {
		maxCount = 1
	}

	var out []UserNode
	cursor := ""

	for {
		page, err := o.fetchUserListPage(ctx, userID, kind, cursor)
		if err != nil {
			return out, err
		}

		out = append(out, page.nodes...)
		if len(out) >= maxCount || !page.hasNext {
			break
		}
		cursor = page.endCursor

		if o.pacer != nil {
			if err := o.pacer.Wait(ctx); err != nil {
				return out, err
			}
		}
	}

	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out, nil
}

func (o *Orchestrator) fetchUserListPage(ctx context.Context, userID string, kind ListKind, cursor string) (userListPage, error) {
	edgeKey := "edge_followed_by"
	queryHash := "c76146de99bb02f6415203be841dd25a"
	if kind == KindFollowings {
		edgeKey = "edge_follow"
		queryHash = "d04b0a864b4b54837c0d870b0e77e076"
	}

	variables := map[string]interface{}{
		"id":           userID,
		"first":        50,
		"include_reel": true,
		"fetch_mutual": false,
	}
	if cursor != "" {
		variables["after"] = cursor
	}
	varJSON, err := json.Marshal(variables)
	if err != nil {
		return userListPage{}, fmt.Errorf("failed to encode graphql variables: %w", err)
	}

	body, err := o.http.Do(ctx, "user_list", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		q := url.Values{}
		q.Set("query_hash", queryHash)
		q.Set("variables", string(varJSON))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseWebURL+"/graphql/query/?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		applyMobileHeaders(req, pair, "")
		return req, nil
	})
	if err != nil {
		return userListPage{}, err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnMsg(fmt.Sprintf("scraper: unexpected user list shape: %v", err))
		return userListPage{}, nil
	}

	edge := asMap(dig(payload, "data", "user", edgeKey))
	if edge == nil {
		logger.WarnMsg("scraper: user list response missing expected edge, stopping")
		return userListPage{}, nil
	}

	var page userListPage
	for _, e := range asSlice(edge["edges"]) {
		node := asMap(asMap(e)["node"])
		if node == nil {
			continue
		}
		page.nodes = append(page.nodes, decodeUserNode(node))
	}

	pageInfo := asMap(edge["page_info"])
	page.hasNext = asBool(pageInfo["has_next_page"])
	page.endCursor = asString(pageInfo["end_cursor"])

	return page, nil
}

// FindMutualFollowers intersects two user-list pages on FollowerPK.
func FindMutualFollowers(followers, followings []UserNode) []UserNode {
	byPK := make(map[string]UserNode, len(followers))
	for _, f := range followers {
		byPK[f.FollowerPK] = f
	}

	var mutuals []UserNode
	for _, f := range followings {
		if _, ok := byPK[f.FollowerPK]; ok {
			mutuals = append(mutuals, f)
		}
	}
	return mutuals
}

// GetRecentMediaMobile fetches up to count recent media entries via the
// mobile feed endpoint, best-effort.
func (o *Orchestrator) GetRecentMediaMobile(ctx context.Context, userID string, count int) ([]Media, error) {
	body, err := o.http.Do(ctx, "recent_media_mobile", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/v1/feed/user/%s/?count=%d", baseMobileURL, userID, count), nil)
		if err != nil {
			return nil, err
		}
		applyMobileHeaders(req, pair, "")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnMsg(fmt.Sprintf("scraper: unexpected media response shape: %v", err))
		return nil, nil
	}

	var out []Media
	for _, item := range asSlice(payload["items"]) {
		node := asMap(item)
		if node == nil {
			continue
		}
		out = append(out, decodeMediaNode(node))
		if len(out) >= count {
			break
		}
	}
	return out, nil
}

// resolveShortcodeToPK resolves a shortcode to a numeric pk via a
// best-effort lookup endpoint.
func (o *Orchestrator) resolveShortcodeToPK(ctx context.Context, shortcode string) (string, error) {
	body, err := o.http.Do(ctx, "media_lookup", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/v1/oembed/?url=https://www.instagram.com/p/%s/", baseMobileURL, shortcode), nil)
		if err != nil {
			return nil, err
		}
		applyMobileHeaders(req, pair, "")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return asString(payload["media_id"]), nil
}

// GetCommentsForMedia fetches up to limit comments for a media reference:
// mobile endpoint first, then web, then the optional CommentFallback if
// both come back empty (§4.5).
func (o *Orchestrator) GetCommentsForMedia(ctx context.Context, ref string, limit int, shortcode string) ([]Comment, error) {
	pk := ref
	if _, err := strconv.ParseInt(ref, 10, 64); err != nil && shortcode != "" {
		resolved, err := o.resolveShortcodeToPK(ctx, shortcode)
		if err == nil && resolved != "" {
			pk = resolved
		}
	}

	comments, err := o.fetchCommentsMobile(ctx, pk, limit)
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		comments, err = o.fetchCommentsWeb(ctx, pk, shortcode, limit)
		if err != nil {
			return nil, err
		}
	}
	if len(comments) == 0 && o.fallback != nil {
		comments, err = o.fallback.FetchComments(ctx, pk, limit)
		if err != nil {
			logger.WarnMsg(fmt.Sprintf("scraper: comment fallback failed for media %s: %v", pk, err))
			comments = nil
		}
	}

	postURL := ""
	if shortcode != "" {
		postURL = fmt.Sprintf("%s/p/%s/", baseWebURL, shortcode)
	}
	for i := range comments {
		comments[i].MediaPK = pk
		comments[i].PostURL = postURL
	}
	return comments, nil
}

func (o *Orchestrator) fetchCommentsMobile(ctx context.Context, pk string, limit int) ([]Comment, error) {
	body, err := o.http.Do(ctx, "comments_mobile", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/v1/media/%s/comments/", baseMobileURL, pk), nil)
		if err != nil {
			return nil, err
		}
		applyMobileHeaders(req, pair, "")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	return decodeCommentsPayload(body, limit), nil
}

func (o *Orchestrator) fetchCommentsWeb(ctx context.Context, pk, shortcode string, limit int) ([]Comment, error) {
	body, err := o.http.Do(ctx, "comments_web", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/v1/media/%s/comments/", baseWebURL, pk), nil)
		if err != nil {
			return nil, err
		}
		applyMobileHeaders(req, pair, "")
		if shortcode != "" {
			req.Header.Set("Referer", fmt.Sprintf("%s/p/%s/", baseWebURL, shortcode))
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	return decodeCommentsPayload(body, limit), nil
}

func decodeCommentsPayload(body []byte, limit int) []Comment {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	var out []Comment
	for _, item := range asSlice(payload["comments"]) {
		node := asMap(item)
		if node == nil {
			continue
		}
		out = append(out, Comment{
			Text:     asString(node["text"]),
			Username: asString(dig(node, "user", "username")),
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// CollectComments fetches up to maxTotal comments across a profile's
// recent media (§4.5): up to maxMedia posts are examined, skipping any
// with comments disabled, stopping once maxTotal comments are collected.
func (o *Orchestrator) CollectComments(ctx context.Context, username string, maxMedia, maxTotal int) ([]Comment, error) {
	username = NormalizeUsername(username)
	if maxMedia < 1 {
		maxMedia = 1
	}
	if maxTotal < 1 {
		maxTotal = 1
	}

	profile, err := o.GetProfile(ctx, username)
	if err != nil {
		return nil, err
	}

	media := profile.RecentMedia
	if len(media) > maxMedia {
		media = media[:maxMedia]
	}

	var collected []Comment
	for _, m := range media {
		if m.CommentsDisabled {
			continue
		}
		remaining := maxTotal - len(collected)
		if remaining <= 0 {
			break
		}

		ref := m.PK
		comments, err := o.GetCommentsForMedia(ctx, ref, remaining, m.Shortcode)
		if err != nil {
			logger.WarnMsg(fmt.Sprintf("scraper: failed to collect comments for media %s: %v", m.PK, err))
			continue
		}
		for i := range comments {
			comments[i].ImageURL = m.ImageURL
		}
		collected = append(collected, comments...)
	}

	return collected, nil
}

// applyMobileHeaders assembles the Instagram-specific mobile headers
// (§4.5): csrftoken derived from the cookie, app-id, asbd-id, and a
// www-claim of "0", plus cookie/user-agent/Referer for the call.
func applyMobileHeaders(req *http.Request, pair *credential.Pair, refererUsername string) {
	req.Header.Set("Cookie", pair.Cookie)
	req.Header.Set("User-Agent", pair.UserAgent)
	req.Header.Set("X-IG-App-ID", "936619743392459")
	req.Header.Set("X-ASBD-ID", "129477")
	req.Header.Set("X-IG-WWW-Claim", "0")
	if csrf := csrfFromCookie(pair.Cookie); csrf != "" {
		req.Header.Set("X-CSRFToken", csrf)
	}
	if refererUsername != "" {
		req.Header.Set("Referer", fmt.Sprintf("%s/%s/", baseWebURL, refererUsername))
	}
}

func csrfFromCookie(cookie string) string {
	for _, part := range strings.Split(cookie, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "csrftoken=") {
			return strings.TrimPrefix(part, "csrftoken=")
		}
	}
	return ""
}
