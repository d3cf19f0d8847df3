package domain

import "strings"

// Sentiment is a coarse reading tone derived from yes/no verdicts, used
// only for history-list styling.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Synthesis is the interpretive payload returned by the AI backend. It is
// a tagged union: exactly one variant is populated, selected by Kind.
// A session's synthesis is either fully present or absent, never partial.
type Synthesis struct {
	Kind        SpreadKind            `json:"kind"`
	ThreeCard   *ThreeCardSynthesis   `json:"three_card,omitempty"`
	CelticCross *CelticCrossSynthesis `json:"celtic_cross,omitempty"`
	Love        *LoveSynthesis        `json:"love,omitempty"`
	YesNo       *YesNoSynthesis       `json:"yes_no,omitempty"`
	DailyCard   *DailyCardSynthesis   `json:"daily_card,omitempty"`
}

// ThreeCardSynthesis narrates past/present/future.
type ThreeCardSynthesis struct {
	Theme      string `json:"theme"`
	Past       string `json:"past"`
	Present    string `json:"present"`
	Future     string `json:"future"`
	Advice     string `json:"advice,omitempty"`
	Reflection string `json:"reflection"`
}

// PositionInsight is one Celtic-cross position's narrative.
type PositionInsight struct {
	Position string `json:"position"`
	Insight  string `json:"insight"`
}

// CelticCrossSynthesis narrates the ten-position cross.
type CelticCrossSynthesis struct {
	Theme      string            `json:"theme"`
	Positions  []PositionInsight `json:"positions"`
	Outcome    string            `json:"outcome"`
	Reflection string            `json:"reflection"`
}

// LoveSynthesis narrates a relationship spread.
type LoveSynthesis struct {
	Theme      string `json:"theme"`
	You        string `json:"you"`
	Partner    string `json:"partner"`
	Dynamic    string `json:"dynamic"`
	Advice     string `json:"advice,omitempty"`
	Reflection string `json:"reflection"`
}

// YesNoSynthesis answers a closed question with a verdict.
type YesNoSynthesis struct {
	Verdict    string `json:"verdict"` // "yes", "no" or "maybe"
	Because    string `json:"because"`
	Reflection string `json:"reflection"`
}

// DailyCardSynthesis is the single-card daily message.
type DailyCardSynthesis struct {
	Theme      string `json:"theme"`
	Message    string `json:"message"`
	Reflection string `json:"reflection"`
}

// Summary is the common legacy shape history and list rendering consume.
type Summary struct {
	Theme      string
	Narrative  string
	Callouts   []string // 0 or 1 supplementary call-out
	Reflection string
	Sentiment  Sentiment
}

// Summarize flattens any synthesis variant into the common Summary shape.
// This is the single normalization point between the polymorphic backend
// payloads and the history record.
func (s *Synthesis) Summarize() Summary {
	if s == nil {
		return Summary{Sentiment: SentimentNeutral}
	}

	switch s.Kind {
	case SpreadThreeCard:
		if v := s.ThreeCard; v != nil {
			sum := Summary{
				Theme:      v.Theme,
				Narrative:  joinNarrative(v.Past, v.Present, v.Future),
				Reflection: v.Reflection,
				Sentiment:  SentimentNeutral,
			}
			if v.Advice != "" {
				sum.Callouts = []string{v.Advice}
			}
			return sum
		}
	case SpreadCelticCross:
		if v := s.CelticCross; v != nil {
			parts := make([]string, 0, len(v.Positions))
			for _, p := range v.Positions {
				parts = append(parts, p.Insight)
			}
			sum := Summary{
				Theme:      v.Theme,
				Narrative:  joinNarrative(parts...),
				Reflection: v.Reflection,
				Sentiment:  SentimentNeutral,
			}
			if v.Outcome != "" {
				sum.Callouts = []string{v.Outcome}
			}
			return sum
		}
	case SpreadLove:
		if v := s.Love; v != nil {
			sum := Summary{
				Theme:      v.Theme,
				Narrative:  joinNarrative(v.You, v.Partner, v.Dynamic),
				Reflection: v.Reflection,
				Sentiment:  SentimentNeutral,
			}
			if v.Advice != "" {
				sum.Callouts = []string{v.Advice}
			}
			return sum
		}
	case SpreadYesNo:
		if v := s.YesNo; v != nil {
			return Summary{
				Theme:      v.Verdict,
				Narrative:  v.Because,
				Reflection: v.Reflection,
				Sentiment:  verdictSentiment(v.Verdict),
			}
		}
	case SpreadDailyCard:
		if v := s.DailyCard; v != nil {
			return Summary{
				Theme:      v.Theme,
				Narrative:  v.Message,
				Reflection: v.Reflection,
				Sentiment:  SentimentNeutral,
			}
		}
	}

	return Summary{Sentiment: SentimentNeutral}
}

func verdictSentiment(verdict string) Sentiment {
	switch strings.ToLower(strings.TrimSpace(verdict)) {
	case "yes", "sim":
		return SentimentPositive
	case "no", "não", "nao":
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func joinNarrative(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
