package scraper

// Tolerant JSON navigation helpers. Instagram-style payloads nest data
// inconsistently (nullable maps, counts sometimes absent, carousels
// sometimes flattened); these helpers implement the "nullable nested
// map", "take first candidate" and "missing as zero" decoding policies
// from §9 instead of a struct with dozens of optional fields.

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// asInt64 tolerates both JSON numbers (float64) and nil ("maybe_null -> 0").
func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func dig(m map[string]interface{}, path ...string) interface{} {
	var cur interface{} = m
	for _, key := range path {
		curMap := asMap(cur)
		if curMap == nil {
			return nil
		}
		cur = curMap[key]
	}
	return cur
}

// firstCandidateURL implements "take first candidate" over an
// image_versions2.candidates list, or a flat display_url fallback.
func firstCandidateURL(node map[string]interface{}) string {
	if candidates := asSlice(dig(node, "image_versions2", "candidates")); len(candidates) > 0 {
		if first := asMap(candidates[0]); first != nil {
			if url := asString(first["url"]); url != "" {
				return url
			}
		}
	}
	if url := asString(node["display_url"]); url != "" {
		return url
	}
	return asString(node["thumbnail_url"])
}

// mediaImageURL resolves a media node's representative image, probing
// carousel children only if the root has no candidate of its own (§4.5).
func mediaImageURL(node map[string]interface{}) string {
	if url := firstCandidateURL(node); url != "" {
		return url
	}

	children := asSlice(dig(node, "carousel_media"))
	if len(children) == 0 {
		children = asSlice(dig(node, "carousel_media", "edges"))
	}
	for _, child := range children {
		childNode := asMap(child)
		if childNode == nil {
			continue
		}
		if inner := asMap(childNode["node"]); inner != nil {
			childNode = inner
		}
		if url := firstCandidateURL(childNode); url != "" {
			return url
		}
	}
	return ""
}

func decodeMediaNode(node map[string]interface{}) Media {
	return Media{
		PK:               asString(node["pk"]),
		Shortcode:        asString(node["code"]),
		IsVideo:          asBool(node["is_video"]) || asInt64(node["media_type"]) == 2,
		TakenAt:          asInt64(node["taken_at"]),
		CommentsDisabled: asBool(node["comments_disabled"]),
		CommentCount:     asInt64(dig(node, "comment_count")),
		ImageURL:         mediaImageURL(node),
	}
}

func decodeUserNode(node map[string]interface{}) UserNode {
	return UserNode{
		FollowerPK: asString(node["id"]),
		Username:   asString(node["username"]),
		FullName:   asString(node["full_name"]),
		IsPrivate:  asBool(node["is_private"]),
		IsVerified: asBool(node["is_verified"]),
		AvatarURL:  asString(node["profile_pic_url"]),
	}
}
