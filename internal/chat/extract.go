package chat

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

//go:embed gazetteer.json
var defaultGazetteer []byte

// Place is a named location with its representative coordinates.
type Place struct {
	Name    string   `json:"name"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Aliases []string `json:"aliases,omitempty"`
}

// Extractor pulls location mentions and content keywords out of a message.
type Extractor interface {
	Extract(msg string) (locations, keywords []string)
}

// LocationResolver maps an extracted location to coordinates.
type LocationResolver interface {
	Resolve(location string) (lat, lng float64, ok bool)
}

// particles are the postpositions that may follow a place name, longest first.
var particles = []string{
	"에서는", "에서도", "에서", "까지", "부터", "으로", "이랑", "이나", "에는",
	"은", "는", "이", "가", "도", "만", "의", "에", "로", "과", "와", "나", "랑", "쪽",
}

var stopwords = map[string]bool{
	"좀": true, "그": true, "곳": true, "데": true, "것": true, "어디": true, "뭐": true,
	"무엇": true, "있는": true, "없는": true, "하는": true, "좋은": true, "갈만한": true,
	"근처": true, "주변": true, "가까운": true, "여행": true, "코스": true, "일정": true,
	"우리": true, "같이": true, "너무": true, "바로": true, "별로": true, "정말": true,
	"진짜": true, "그리고": true, "말고": true, "장소": true, "어떤": true, "요즘": true,
	"오늘": true, "내일": true, "이번": true, "주말": true, "싶어": true, "싶다": true,
	"가자": true, "nearby": true,
}

// requestStems mark tokens that are the request verb rather than content.
var requestStems = []string{"추천", "알려", "찾아", "가고", "가볼", "해줘", "주세요", "있어", "있을까", "할까", "어때"}

var nearbyWords = []string{"근처", "주변", "가까운", "nearby"}

var (
	districtPair   = regexp.MustCompile(`^[\p{L}\p{N}]{2,}[시도군구읍면]$`)
	districtSecond = regexp.MustCompile(`^[\p{L}\p{N}]+[시군구읍면동]$`)
	streetToken    = regexp.MustCompile(`^[\p{L}\p{N}]{2,}[동로길]$|^[\p{L}\p{N}]+\d+가$`)
	tokenSplit     = regexp.MustCompile(`[\s,.!?~·/()"']+`)
)

// IsNearby reports whether msg explicitly asks for places close by.
func IsNearby(msg string) bool {
	lower := strings.ToLower(msg)
	for _, w := range nearbyWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// LoadGazetteer parses a gazetteer document.
func LoadGazetteer(data []byte) ([]Place, error) {
	var doc struct {
		Places []Place `json:"places"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse gazetteer: %w", err)
	}
	return doc.Places, nil
}

// DictionaryExtractor finds locations from a gazetteer and generic Korean
// address shapes, and keywords from the remaining tokens.
type DictionaryExtractor struct {
	// names holds every name and alias, longest first.
	names  []string
	coords map[string]Place
}

// NewDictionaryExtractor builds an extractor over places.
func NewDictionaryExtractor(places []Place) *DictionaryExtractor {
	e := &DictionaryExtractor{coords: make(map[string]Place)}
	for _, p := range places {
		for _, n := range append([]string{p.Name}, p.Aliases...) {
			if n == "" {
				continue
			}
			if _, dup := e.coords[n]; !dup {
				e.names = append(e.names, n)
			}
			e.coords[n] = p
		}
	}
	sort.SliceStable(e.names, func(i, j int) bool {
		return utf8.RuneCountInString(e.names[i]) > utf8.RuneCountInString(e.names[j])
	})
	return e
}

// DefaultExtractor returns an extractor over the built-in gazetteer.
func DefaultExtractor() (*DictionaryExtractor, error) {
	places, err := LoadGazetteer(defaultGazetteer)
	if err != nil {
		return nil, err
	}
	return NewDictionaryExtractor(places), nil
}

// Extract returns locations in order of appearance and the content keywords.
func (e *DictionaryExtractor) Extract(msg string) ([]string, []string) {
	found := e.gazetteerMatches(msg)
	found = append(found, e.genericAddresses(msg)...)
	locations := dropContained(msg, found)
	return locations, keywords(msg, locations)
}

type span struct{ start, end int }

// gazetteerMatches finds known names bounded by word edges or particles.
// Longer names claim their text first.
func (e *DictionaryExtractor) gazetteerMatches(msg string) []string {
	var taken []span
	var out []string
	for _, name := range e.names {
		for from := 0; from < len(msg); {
			i := strings.Index(msg[from:], name)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(name)
			from = end
			if overlaps(taken, start, end) || !leftBoundary(msg, start) || !rightBoundary(msg, end) {
				continue
			}
			taken = append(taken, span{start, end})
			out = append(out, name)
		}
	}
	return out
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func leftBoundary(msg string, start int) bool {
	if start == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(msg[:start])
	return !isWordRune(r)
}

func rightBoundary(msg string, end int) bool {
	if end == len(msg) {
		return true
	}
	rest := msg[end:]
	r, _ := utf8.DecodeRuneInString(rest)
	if !isWordRune(r) {
		return true
	}
	for _, p := range particles {
		if strings.HasPrefix(rest, p) {
			return true
		}
	}
	return false
}

// genericAddresses finds administrative address shapes not in the gazetteer,
// such as "수원시 팔달구" or "인계동".
func (e *DictionaryExtractor) genericAddresses(msg string) []string {
	tokens := tokenize(msg)
	var out []string
	for i := 0; i < len(tokens); i++ {
		if i+1 < len(tokens) && districtPair.MatchString(tokens[i]) {
			next := stripParticle(tokens[i+1])
			if districtSecond.MatchString(next) {
				out = append(out, tokens[i]+" "+next)
				i++
				continue
			}
		}
		if street, ok := e.street(tokens[i]); ok {
			out = append(out, street)
		}
	}
	return out
}

// street reports whether tok names a neighbourhood or road. A trailing
// particle is stripped first; "로" is only kept as part of the name when
// the stripped form is not already a known place.
func (e *DictionaryExtractor) street(tok string) (string, bool) {
	stripped := stripParticle(tok)
	if streetToken.MatchString(stripped) && !stopwords[stripped] {
		return stripped, true
	}
	if _, known := e.coords[stripped]; known || strings.HasSuffix(tok, "으로") {
		return "", false
	}
	if streetToken.MatchString(tok) && !stopwords[tok] {
		return tok, true
	}
	return "", false
}

// dropContained removes duplicates and locations that are substrings of
// another found location, then orders them by first appearance.
func dropContained(msg string, found []string) []string {
	seen := make(map[string]bool)
	var uniq []string
	for _, f := range found {
		if !seen[f] {
			seen[f] = true
			uniq = append(uniq, f)
		}
	}
	var out []string
	for _, a := range uniq {
		contained := false
		for _, b := range uniq {
			if a != b && strings.Contains(b, a) {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.Index(msg, out[i]) < strings.Index(msg, out[j])
	})
	return out
}

func tokenize(msg string) []string {
	var out []string
	for _, t := range tokenSplit.Split(msg, -1) {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func stripParticle(tok string) string {
	for _, p := range particles {
		if strings.HasSuffix(tok, p) && utf8.RuneCountInString(tok) > utf8.RuneCountInString(p)+1 {
			return strings.TrimSuffix(tok, p)
		}
	}
	return tok
}

// keywords returns the content tokens of msg that are not locations,
// stopwords or request verbs.
func keywords(msg string, locations []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range tokenize(strings.ToLower(msg)) {
		tok := stripParticle(raw)
		if utf8.RuneCountInString(tok) < 2 || stopwords[tok] || seen[tok] || isRequestVerb(tok) {
			continue
		}
		if partOfLocation(tok, locations) {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func isRequestVerb(tok string) bool {
	for _, s := range requestStems {
		if strings.HasPrefix(tok, s) {
			return true
		}
	}
	return false
}

func partOfLocation(tok string, locations []string) bool {
	for _, loc := range locations {
		if strings.Contains(loc, tok) || strings.Contains(tok, loc) {
			return true
		}
	}
	return false
}

// Resolve returns the coordinates of location. Multi-part addresses resolve
// to their most specific known component, which is the one ending last.
func (e *DictionaryExtractor) Resolve(location string) (float64, float64, bool) {
	if p, ok := e.coords[location]; ok {
		return p.Lat, p.Lng, true
	}
	best, bestEnd := "", -1
	for _, name := range e.names {
		i := strings.LastIndex(location, name)
		if i < 0 {
			continue
		}
		if end := i + len(name); end > bestEnd {
			best, bestEnd = name, end
		}
	}
	if best == "" {
		return 0, 0, false
	}
	p := e.coords[best]
	return p.Lat, p.Lng, true
}
