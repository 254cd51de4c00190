package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/llm"
)

// Intent is the kind of recommendation a message asks for.
type Intent string

// Intents. IntentAskSubIntent marks a request too generic to act on.
const (
	IntentTour         Intent = "recommend_tour"
	IntentFood         Intent = "recommend_food"
	IntentNature       Intent = "recommend_nature"
	IntentHistory      Intent = "recommend_history"
	IntentActivity     Intent = "recommend_activity"
	IntentLeisure      Intent = "recommend_leisure"
	IntentShopping     Intent = "recommend_shopping"
	IntentQuiet        Intent = "recommend_quiet"
	IntentSchedule     Intent = "recommend_schedule"
	IntentAskSubIntent Intent = "ask_sub_intent"
)

// IntentOrder is the fixed order used to break ties between intents.
var IntentOrder = []Intent{
	IntentTour,
	IntentFood,
	IntentNature,
	IntentHistory,
	IntentActivity,
	IntentLeisure,
	IntentShopping,
	IntentQuiet,
	IntentSchedule,
}

// ErrUnknownIntent is returned by classifiers that answer outside the intent set.
var ErrUnknownIntent = errors.New("unknown intent")

// ParseIntent maps a label to a known Intent.
func ParseIntent(s string) (Intent, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, in := range IntentOrder {
		if string(in) == s {
			return in, true
		}
	}
	if s == string(IntentAskSubIntent) {
		return IntentAskSubIntent, true
	}
	return "", false
}

// Categories returns the top-level category codes an intent retrieves from.
func (i Intent) Categories() []string {
	switch i {
	case IntentFood:
		return []string{content.CategoryFood}
	case IntentNature:
		return []string{content.CategoryNature}
	case IntentHistory:
		return []string{content.CategoryHistory}
	case IntentActivity:
		return []string{content.CategoryExperience}
	case IntentLeisure:
		return []string{content.CategoryLeisure}
	case IntentShopping:
		return []string{content.CategoryShopping}
	default:
		return content.TouristCategories
	}
}

// Label is the Korean display name of the intent's theme.
func (i Intent) Label() string {
	switch i {
	case IntentFood:
		return "맛집"
	case IntentNature:
		return "자연"
	case IntentHistory:
		return "역사·문화"
	case IntentActivity:
		return "체험"
	case IntentLeisure:
		return "레저"
	case IntentShopping:
		return "쇼핑"
	case IntentQuiet:
		return "한적한 명소"
	case IntentSchedule:
		return "여행 일정"
	default:
		return "관광지"
	}
}

// intentRules are the keyword patterns counted per intent.
var intentRules = map[Intent][]*regexp.Regexp{
	IntentTour:     compileAll(`관광`, `명소`, `구경`, `볼거리`, `가볼\s*만한`, `랜드마크`, `투어`),
	IntentFood:     compileAll(`맛집`, `음식`, `먹을`, `먹고`, `식당`, `밥집`, `카페`, `디저트`, `술집`, `레스토랑`),
	IntentNature:   compileAll(`자연`, `바다`, `해변`, `해수욕장`, `숲`, `계곡`, `등산`, `산책`, `호수`, `경치`, `꽃구경`),
	IntentHistory:  compileAll(`역사`, `유적`, `궁궐`, `고궁`, `사찰`, `박물관`, `문화재`, `한옥`, `전통`),
	IntentActivity: compileAll(`체험`, `액티비티`, `만들기`, `공방`, `원데이\s*클래스`),
	IntentLeisure:  compileAll(`레저`, `서핑`, `스키`, `캠핑`, `래프팅`, `패러글라이딩`, `놀이공원`, `테마파크`, `수상\s*스포츠`),
	IntentShopping: compileAll(`쇼핑`, `시장`, `백화점`, `아울렛`, `기념품`, `면세점`),
	IntentQuiet:    compileAll(`조용한`, `한적한`, `사람\s*(없는|적은)`, `숨은`, `여유로운`, `붐비지\s*않는`),
	IntentSchedule: compileAll(`일정`, `코스`, `\d+\s*박\s*\d+\s*일`, `당일\s*치기`, `여행\s*계획`, `스케줄`, `동선`),
}

// genericRequest matches requests that ask for something without a theme.
var genericRequest = regexp.MustCompile(`아무거나|뭐\s*(하지|할까|하면\s*좋을까)|어디\s*(갈까|가지)|^\s*(여행\s*)?추천\s*(해\s*줘|해\s*주세요|좀)?\s*[.!?]*\s*$`)

// travelKeywords mark a message as travel related even without an intent hit.
var travelKeywords = []string{"여행", "코스", "추천", "일정", "맛집", "가고 싶어", "명소"}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// RuleCounts returns the number of distinct rule patterns each intent hits.
func RuleCounts(msg string) map[Intent]int {
	counts := make(map[Intent]int)
	for intent, rules := range intentRules {
		for _, re := range rules {
			if re.MatchString(msg) {
				counts[intent]++
			}
		}
	}
	return counts
}

// IsTravelRelated reports whether msg mentions travel at all.
func IsTravelRelated(msg string, counts map[Intent]int) bool {
	if len(counts) > 0 {
		return true
	}
	lower := strings.ToLower(msg)
	for _, kw := range travelKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IntentClassifier is the model consulted when rules are inconclusive.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, msg string) (Intent, error)
}

// IntentSource records how an intent was decided.
type IntentSource string

// Intent sources.
const (
	SourceRule     IntentSource = "rule"
	SourceModel    IntentSource = "model"
	SourceFallback IntentSource = "fallback"
)

// ClassifyIntent decides the intent of msg from rule counts, consulting ml
// only when no rule wins outright. ml may be nil.
func ClassifyIntent(ctx context.Context, msg string, counts map[Intent]int, ml IntentClassifier) (Intent, IntentSource) {
	tied := topIntents(counts)
	switch {
	case len(tied) == 1:
		return tied[0], SourceRule
	case len(tied) > 1:
		if ml != nil {
			if in, err := ml.ClassifyIntent(ctx, msg); err == nil && contains(tied, in) {
				return in, SourceModel
			}
		}
		return tied[0], SourceFallback
	}

	if genericRequest.MatchString(msg) {
		return IntentAskSubIntent, SourceRule
	}
	if ml != nil {
		if in, err := ml.ClassifyIntent(ctx, msg); err == nil {
			return in, SourceModel
		}
	}
	return IntentTour, SourceFallback
}

// topIntents returns the intents sharing the highest non-zero count, in IntentOrder.
func topIntents(counts map[Intent]int) []Intent {
	best := 0
	for _, n := range counts {
		best = max(best, n)
	}
	if best == 0 {
		return nil
	}
	var out []Intent
	for _, in := range IntentOrder {
		if counts[in] == best {
			out = append(out, in)
		}
	}
	return out
}

func contains(list []Intent, in Intent) bool {
	for _, x := range list {
		if x == in {
			return true
		}
	}
	return false
}

// Completer produces a chat completion.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

const intentPrompt = `다음 여행 관련 문장의 의도를 아래 레이블 중 하나로만 답하세요. 다른 말은 쓰지 마세요.
recommend_tour, recommend_food, recommend_nature, recommend_history, recommend_activity, recommend_leisure, recommend_shopping, recommend_quiet, recommend_schedule, ask_sub_intent
(recommend_schedule: 며칠 일정이나 여행 코스를 짜 달라는 경우)
(ask_sub_intent: 테마 없이 막연하게 추천을 요청하는 경우)`

// LLMIntentClassifier classifies intents with a chat completion.
type LLMIntentClassifier struct {
	completer Completer
}

// NewLLMIntentClassifier creates an LLMIntentClassifier.
func NewLLMIntentClassifier(c Completer) *LLMIntentClassifier {
	return &LLMIntentClassifier{completer: c}
}

// ClassifyIntent asks the model for a single intent label.
func (c *LLMIntentClassifier) ClassifyIntent(ctx context.Context, msg string) (Intent, error) {
	out, err := c.completer.Complete(ctx, llm.CompletionRequest{
		System:    intentPrompt,
		User:      msg,
		MaxTokens: 10,
	})
	if err != nil {
		return "", fmt.Errorf("classify intent: %w", err)
	}
	in, ok := ParseIntent(strings.Trim(out, "`'\". \n"))
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownIntent, out)
	}
	return in, nil
}
