package http

import (
	"time"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/app"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
)

type startSessionRequest struct {
	SpreadID string `json:"spread_id"`
	Question string `json:"question"`
	Lang     string `json:"lang"`
}

type pickRequest struct {
	DeckIndex int `json:"deck_index"`
}

type updateRecordRequest struct {
	Comment *string `json:"comment"`
	Rating  *int    `json:"rating"`
}

// SpreadResponse is one catalog entry on the selection screen.
type SpreadResponse struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Badge     string   `json:"badge"`
	CardCount int      `json:"card_count"`
	Positions []string `json:"positions"`
}

// SessionResponse is the live session view. Face-down cards are never
// listed; only deck_size is exposed until a card is picked.
type SessionResponse struct {
	Token    string         `json:"token"`
	Spread   SpreadResponse `json:"spread"`
	State    string         `json:"state"`
	DeckSize int            `json:"deck_size"`
	Draws    []DrawResponse `json:"draws"`
}

type DrawResponse struct {
	Position int          `json:"position"`
	Card     CardResponse `json:"card"`
	Reversed bool         `json:"reversed"`
	Revealed bool         `json:"revealed"`
	PickedAt time.Time    `json:"picked_at"`
}

type CardResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Arcana string `json:"arcana"`
	Suit   string `json:"suit,omitempty"`
	Image  string `json:"image"`
}

type PickResponse struct {
	Draw       DrawResponse        `json:"draw"`
	Completed  bool                `json:"completed"`
	Navigation *NavigationResponse `json:"navigation,omitempty"`
}

// NavigationResponse is delivered with the final pick, once per session.
type NavigationResponse struct {
	Token    string `json:"token"`
	SpreadID string `json:"spread_id"`
}

type ResultResponse struct {
	Token     string          `json:"token"`
	Spread    SpreadResponse  `json:"spread"`
	Question  string          `json:"question,omitempty"`
	Cards     []DrawResponse  `json:"cards"`
	Synthesis any             `json:"synthesis"`
	Summary   SummaryResponse `json:"summary"`
}

type SummaryResponse struct {
	Theme      string   `json:"theme"`
	Narrative  string   `json:"narrative"`
	Callouts   []string `json:"callouts,omitempty"`
	Reflection string   `json:"reflection"`
	Sentiment  string   `json:"sentiment"`
}

type HistoryRecordResponse struct {
	ID            int64      `json:"id"`
	SessionToken  string     `json:"session_token"`
	CreatedAt     time.Time  `json:"created_at"`
	SpreadID      string     `json:"spread_id"`
	SpreadName    string     `json:"spread_name"`
	SpreadBadge   string     `json:"spread_badge"`
	CardIDs       []string   `json:"card_ids"`
	CardImages    []string   `json:"card_images"`
	CardNames     []string   `json:"card_names"`
	PositionNames []string   `json:"position_names"`
	Question      string     `json:"question,omitempty"`
	Theme         string     `json:"theme"`
	Summary       string     `json:"summary"`
	Reflection    string     `json:"reflection"`
	Sentiment     string     `json:"sentiment"`
	Comment       string     `json:"comment,omitempty"`
	Rating        int        `json:"rating,omitempty"`
	ViewedAt      *time.Time `json:"viewed_at,omitempty"`
}

type AttachResponse struct {
	Attached bool `json:"attached"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toSpreadResponse(s domain.Spread) SpreadResponse {
	positions := make([]string, len(s.Positions))
	for i, p := range s.Positions {
		positions[i] = p.Name
	}
	return SpreadResponse{
		ID:        s.ID,
		Kind:      string(s.Kind),
		Name:      s.Name,
		Badge:     s.Badge,
		CardCount: s.CardCount,
		Positions: positions,
	}
}

func toDrawResponses(draws []domain.Draw) []DrawResponse {
	out := make([]DrawResponse, len(draws))
	for i, d := range draws {
		out[i] = toDrawResponse(d)
	}
	return out
}

func toDrawResponse(d domain.Draw) DrawResponse {
	return DrawResponse{
		Position: d.Position,
		Card: CardResponse{
			ID:     d.Card.ID,
			Name:   d.Card.Name,
			Arcana: string(d.Card.Arcana),
			Suit:   string(d.Card.Suit),
			Image:  d.Card.Image,
		},
		Reversed: d.Reversed,
		Revealed: d.Revealed,
		PickedAt: d.PickedAt,
	}
}

func toSessionResponse(v app.SessionView) SessionResponse {
	return SessionResponse{
		Token:    v.Token,
		Spread:   toSpreadResponse(v.Spread),
		State:    string(v.State),
		DeckSize: v.DeckSize,
		Draws:    toDrawResponses(v.Draws),
	}
}

func toResultResponse(r app.ReadingResult) ResultResponse {
	return ResultResponse{
		Token:     r.Token,
		Spread:    toSpreadResponse(r.Spread),
		Question:  r.Question,
		Cards:     toDrawResponses(r.Cards),
		Synthesis: synthesisBody(r.Synthesis),
		Summary: SummaryResponse{
			Theme:      r.Summary.Theme,
			Narrative:  r.Summary.Narrative,
			Callouts:   r.Summary.Callouts,
			Reflection: r.Summary.Reflection,
			Sentiment:  string(r.Summary.Sentiment),
		},
	}
}

// synthesisBody unwraps the active variant so clients get one flat
// object per spread kind, or null when the backend degraded.
func synthesisBody(s *domain.Synthesis) any {
	if s == nil {
		return nil
	}
	switch {
	case s.ThreeCard != nil:
		return s.ThreeCard
	case s.CelticCross != nil:
		return s.CelticCross
	case s.Love != nil:
		return s.Love
	case s.YesNo != nil:
		return s.YesNo
	case s.DailyCard != nil:
		return s.DailyCard
	default:
		return nil
	}
}

func toHistoryResponses(recs []domain.HistoryRecord) []HistoryRecordResponse {
	out := make([]HistoryRecordResponse, len(recs))
	for i, rec := range recs {
		out[i] = HistoryRecordResponse{
			ID:            rec.ID,
			SessionToken:  rec.SessionToken,
			CreatedAt:     rec.CreatedAt,
			SpreadID:      rec.SpreadID,
			SpreadName:    rec.SpreadName,
			SpreadBadge:   rec.SpreadBadge,
			CardIDs:       rec.CardIDs,
			CardImages:    rec.CardImages,
			CardNames:     rec.CardNames,
			PositionNames: rec.PositionNames,
			Question:      rec.Question,
			Theme:         rec.Theme,
			Summary:       rec.Summary,
			Reflection:    rec.Reflection,
			Sentiment:     string(rec.Sentiment),
			Comment:       rec.Comment,
			Rating:        rec.Rating,
			ViewedAt:      rec.ViewedAt,
		}
	}
	return out
}
