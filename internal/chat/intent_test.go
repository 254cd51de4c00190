package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/onnwee/tripfeed/internal/content"
	"github.com/onnwee/tripfeed/internal/llm"
)

type fakeClassifier struct {
	intent Intent
	err    error
	calls  int
}

func (f *fakeClassifier) ClassifyIntent(ctx context.Context, msg string) (Intent, error) {
	f.calls++
	return f.intent, f.err
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name       string
		msg        string
		ml         *fakeClassifier
		wantIntent Intent
		wantSource IntentSource
		wantCalls  int
	}{
		{"single rule winner", "부산 맛집 추천해줘", &fakeClassifier{intent: IntentNature}, IntentFood, SourceRule, 0},
		{"higher count wins", "바다 보이는 해변 산책 카페", &fakeClassifier{}, IntentNature, SourceRule, 0},
		{"tie resolved by model", "조용한 카페", &fakeClassifier{intent: IntentQuiet}, IntentQuiet, SourceModel, 1},
		{"tie ignores answer outside candidates", "조용한 카페", &fakeClassifier{intent: IntentHistory}, IntentFood, SourceFallback, 1},
		{"tie with model error", "조용한 카페", &fakeClassifier{err: errors.New("down")}, IntentFood, SourceFallback, 1},
		{"generic request asks for theme", "추천해줘", &fakeClassifier{intent: IntentFood}, IntentAskSubIntent, SourceRule, 0},
		{"anything goes", "아무거나 추천 좀", nil, IntentAskSubIntent, SourceRule, 0},
		{"no hit uses model", "강릉 가고 싶어", &fakeClassifier{intent: IntentNature}, IntentNature, SourceModel, 1},
		{"no hit without model", "강릉 가고 싶어", nil, IntentTour, SourceFallback, 0},
		{"no hit model failure", "강릉 가고 싶어", &fakeClassifier{err: errors.New("down")}, IntentTour, SourceFallback, 1},
		{"itinerary request", "서울 2박 3일 여행 코스 추천해줘", &fakeClassifier{}, IntentSchedule, SourceRule, 0},
		{"themed course ties toward theme", "부산 맛집 코스", nil, IntentFood, SourceFallback, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ml IntentClassifier
			if tt.ml != nil {
				ml = tt.ml
			}
			got, src := ClassifyIntent(context.Background(), tt.msg, RuleCounts(tt.msg), ml)
			if got != tt.wantIntent || src != tt.wantSource {
				t.Errorf("got %s/%s, want %s/%s", got, src, tt.wantIntent, tt.wantSource)
			}
			if tt.ml != nil && tt.ml.calls != tt.wantCalls {
				t.Errorf("model calls = %d, want %d", tt.ml.calls, tt.wantCalls)
			}
		})
	}
}

func TestIsTravelRelated(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"서울 2박 3일 여행 코스 추천해줘", true},
		{"제주도 가고 싶어", true},
		{"박물관 어디가 좋아", true},
		{"오늘 날씨 어때", false},
		{"파이썬 코드 짜줘", false},
	}
	for _, tt := range tests {
		if got := IsTravelRelated(tt.msg, RuleCounts(tt.msg)); got != tt.want {
			t.Errorf("IsTravelRelated(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestIntentCategories(t *testing.T) {
	if got := fmt.Sprint(IntentFood.Categories()); got != "[FD]" {
		t.Errorf("food categories = %s", got)
	}
	if got := fmt.Sprint(IntentQuiet.Categories()); got != fmt.Sprint(content.TouristCategories) {
		t.Errorf("quiet categories = %s", got)
	}
}

func TestParseIntent(t *testing.T) {
	for _, s := range []string{"recommend_food", " RECOMMEND_FOOD ", "ask_sub_intent"} {
		if _, ok := ParseIntent(s); !ok {
			t.Errorf("ParseIntent(%q) failed", s)
		}
	}
	if _, ok := ParseIntent("book_hotel"); ok {
		t.Error("unexpected intent parsed")
	}
}

type fakeCompleter struct {
	out  string
	err  error
	reqs []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

func TestLLMIntentClassifier(t *testing.T) {
	tests := []struct {
		out     string
		err     error
		want    Intent
		wantErr error
	}{
		{out: "recommend_history", want: IntentHistory},
		{out: "`recommend_quiet`\n", want: IntentQuiet},
		{out: "I think food", wantErr: ErrUnknownIntent},
		{err: errors.New("timeout")},
	}
	for _, tt := range tests {
		c := NewLLMIntentClassifier(&fakeCompleter{out: tt.out, err: tt.err})
		got, err := c.ClassifyIntent(context.Background(), "경복궁 가볼래")
		switch {
		case tt.err != nil || tt.wantErr != nil:
			if err == nil {
				t.Errorf("%q: expected error", tt.out)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("%q: error = %v, want %v", tt.out, err, tt.wantErr)
			}
		case err != nil:
			t.Errorf("%q: %v", tt.out, err)
		case got != tt.want:
			t.Errorf("%q: got %s, want %s", tt.out, got, tt.want)
		}
	}
}

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		msg  string
		want ReplyKind
	}{
		{"네", ReplyAffirmative},
		{"네, 좋아요!", ReplyAffirmative},
		{"응 부탁해", ReplyAffirmative},
		{"ok", ReplyAffirmative},
		{"아니요", ReplyNegative},
		{"아니 괜찮아요", ReplyNegative},
		{"네 근데 필요 없어요", ReplyNegative},
		{"no thanks", ReplyNegative},
		{"어디 가볼까", ReplyNeutral},
		{"예쁜 카페", ReplyNeutral},
		{"now what", ReplyNeutral},
		{"", ReplyNeutral},
	}
	for _, tt := range tests {
		if got := ClassifyReply(tt.msg); got != tt.want {
			t.Errorf("ClassifyReply(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestFollowUpRules(t *testing.T) {
	tests := []struct {
		intent   Intent
		wantType FollowUpType
		wantNext Intent
	}{
		{IntentFood, FollowUpNearbyTour, IntentTour},
		{IntentTour, FollowUpNearbyFood, IntentFood},
		{IntentNature, FollowUpNearbyCafe, IntentFood},
		{IntentHistory, FollowUpNearbyFood, IntentFood},
		{IntentActivity, FollowUpNearbyFood, IntentFood},
		{IntentLeisure, FollowUpNearbyFood, IntentFood},
		{IntentShopping, FollowUpNearbyCafe, IntentFood},
		{IntentSchedule, FollowUpNearbyFood, IntentFood},
	}
	for _, tt := range tests {
		typ, next, suggestion, ok := FollowUpFor(tt.intent)
		if !ok || typ != tt.wantType || next != tt.wantNext || suggestion == "" {
			t.Errorf("%s: got %s/%s/%q/%v", tt.intent, typ, next, suggestion, ok)
		}
	}
	if _, _, _, ok := FollowUpFor(IntentQuiet); ok {
		t.Error("quiet searches must not offer a follow-up")
	}
}
