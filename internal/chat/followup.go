package chat

import (
	"strings"
	"unicode/utf8"
)

// FollowUpType names the kind of follow-up offered after results.
type FollowUpType string

// Follow-up types.
const (
	FollowUpNearbyTour FollowUpType = "nearby_tour"
	FollowUpNearbyFood FollowUpType = "nearby_food"
	FollowUpNearbyCafe FollowUpType = "nearby_cafe"
)

// FollowUpContext carries an offered follow-up into the next turn.
type FollowUpContext struct {
	Type             FollowUpType `json:"follow_up_type"`
	NextIntent       Intent       `json:"next_intent"`
	AnchorContentIDs []string     `json:"anchor_content_ids"`
}

// followUpRule is what to offer after an intent's results.
type followUpRule struct {
	typ        FollowUpType
	next       Intent
	suggestion string
}

// followUpRules has no entry for IntentQuiet; quiet searches end there.
var followUpRules = map[Intent]followUpRule{
	IntentFood:     {FollowUpNearbyTour, IntentTour, "주변 관광 명소나 예쁜 카페"},
	IntentTour:     {FollowUpNearbyFood, IntentFood, "근처 맛집이나 식사할 만한 곳"},
	IntentNature:   {FollowUpNearbyCafe, IntentFood, "근처에서 쉴 만한 감성 카페"},
	IntentHistory:  {FollowUpNearbyFood, IntentFood, "근처의 전통 찻집이나 식사할 곳"},
	IntentActivity: {FollowUpNearbyFood, IntentFood, "활동 후 허기를 달랠 맛집"},
	IntentLeisure:  {FollowUpNearbyFood, IntentFood, "레저 활동 후 에너지를 보충할 맛집"},
	IntentShopping: {FollowUpNearbyCafe, IntentFood, "쇼핑 중 잠시 쉴 수 있는 카페"},
	IntentSchedule: {FollowUpNearbyFood, IntentFood, "일정 사이에 들를 만한 맛집"},
}

// FollowUpFor returns the follow-up rule for intent, if any.
func FollowUpFor(intent Intent) (FollowUpType, Intent, string, bool) {
	r, ok := followUpRules[intent]
	return r.typ, r.next, r.suggestion, ok
}

// ReplyKind classifies an answer to an offered follow-up.
type ReplyKind int

// Reply kinds.
const (
	ReplyNeutral ReplyKind = iota
	ReplyAffirmative
	ReplyNegative
)

var (
	affirmativePhrases = []string{"네", "예", "응", "좋아", "좋습니다", "그래", "부탁", "알려줘", "찾아줘", "보여줘", "ㅇㅇ", "콜", "yes", "sure", "ok", "okay", "yeah"}
	negativePhrases    = []string{"아니", "괜찮아", "괜찮습니다", "됐어", "필요 없", "필요없", "싫어", "그만", "no", "nope"}
)

// ClassifyReply decides whether msg accepts or declines an offered follow-up.
// Negative phrases are checked first so "아니 괜찮아요" is never read as a yes.
func ClassifyReply(msg string) ReplyKind {
	lower := strings.ToLower(strings.TrimSpace(msg))
	if lower == "" {
		return ReplyNeutral
	}
	tokens := tokenize(lower)
	if matchesPhrase(lower, tokens, negativePhrases) {
		return ReplyNegative
	}
	if matchesPhrase(lower, tokens, affirmativePhrases) {
		return ReplyAffirmative
	}
	return ReplyNeutral
}

// matchesPhrase checks multi-word phrases against the whole message. Hangul
// words of two or more syllables match token prefixes so endings like "요"
// are allowed; shorter or Latin words must match a whole token.
func matchesPhrase(msg string, tokens []string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(p, " ") {
			if strings.Contains(msg, p) {
				return true
			}
			continue
		}
		prefix := utf8.RuneCountInString(p) > 1 && ContainsHangul(p)
		for _, t := range tokens {
			if t == p || (prefix && strings.HasPrefix(t, p)) {
				return true
			}
		}
	}
	return false
}
