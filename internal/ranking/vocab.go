package ranking

// Vocabularies matched as substrings by HiddenTrendyScore.
var (
	// TrendyPhrases mark atmosphere, new hot spots and small concept venues.
	TrendyPhrases = []string{
		"감성", "아늑한", "조용한 카페", "힙한", "분위기 좋은", "고즈넉한",
		"인스타그래머블", "갬성", "빈티지", "레트로", "모던한", "이국적인",
		"뷰맛집", "오션뷰", "마운틴뷰", "리버뷰",
		"성지", "인생샷", "포토존", "리단길", "힙지로",
		"독립서점", "LP바", "공방", "소품샵", "편집샵", "전시", "갤러리",
		"복합문화공간", "루프탑", "테라스", "북카페", "디저트카페", "베이커리카페",
		"와인바", "칵테일바", "브런치", "비건", "오마카세", "파인다이닝",
		"골목", "작은", "숨은", "로컬", "현지인 맛집", "나만 아는", "예쁜", "아기자기한",
		"오래된", "노포",
		"원데이클래스", "플리마켓", "워크샵", "팝업스토어", "팝업",
	}

	// QuietCategories are category names associated with few visitors.
	QuietCategories = []string{
		"수목원", "자연휴양림", "정원", "식물원", "사찰", "템플스테이",
		"삼림욕장", "치유의 숲", "생태공원", "다원", "농장", "목장",
		"작은미술관", "미술관", "독립서점", "북카페", "갤러리", "기념관",
		"박물관", "문학관", "전통찻집", "공방",
		"고택", "서원", "향교", "종택", "민속마을", "성지", "유적", "사적",
	}

	// CrowdedCategories are category names associated with large crowds.
	CrowdedCategories = []string{
		"테마파크", "놀이공원", "유명해수욕장", "대형쇼핑몰", "아울렛",
		"백화점", "대형마트", "면세점", "워터파크", "아쿠아리움",
		"전망대", "대형공연장", "컨벤션센터", "경기장", "카지노",
		"종합버스터미널", "기차역", "KTX역", "공항",
		"대형시장", "야시장", "수산시장",
	}

	// MainstreamPhrases mark heavily promoted landmarks.
	MainstreamPhrases = []string{
		"대표 관광지", "필수 코스", "유명한", "모두가 아는", "랜드마크",
		"인기 명소", "인기있는", "핫플레이스", "핫플", "최고의", "명소",
		"사람들이 많이 찾는", "누구나 가는", "국민관광지",
		"꼭 가봐야 할", "놓치지 말아야 할", "필수 방문", "강력 추천", "추천 코스",
		"TV에 나온", "방송에 나온", "드라마 촬영지", "영화 촬영지",
		"인증샷", "인증샷 명소", "100선",
	}
)
