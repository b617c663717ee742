package models

import "time"

// Kind is the semantic classification of a message payload.
type Kind string

const (
	KindText                Kind = "text"
	KindImage               Kind = "image"
	KindAudio               Kind = "audio"
	KindFile                Kind = "file"
	KindProducts            Kind = "products"
	KindRecommendedProducts Kind = "recommended_products"
	KindCall                Kind = "call"
	KindSystem              Kind = "system"
	KindCustom              Kind = "custom"
	// KindHidden is terminal: classified but never rendered or retained.
	KindHidden Kind = "hidden"
)

// Provenance records which source produced a message record. Server records
// are authoritative and win over local-echo records during merge.
type Provenance string

const (
	ProvServer   Provenance = "server"
	ProvLocalLog Provenance = "local-log"
)

// Direction of a message relative to the local user.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// CanonicalMessage is the merged, source-agnostic message record. At most one
// of the kind-specific content fields is populated, selected by Kind; Body
// always carries the displayable (or raw fallback) string content.
type CanonicalMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Kind           Kind       `json:"kind"`
	Direction      Direction  `json:"direction"`
	Sender         string     `json:"sender"`
	Avatar         string     `json:"avatar,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Provenance     Provenance `json:"provenance"`

	Body                string               `json:"body,omitempty"`
	Image               *ImageContent        `json:"image,omitempty"`
	Audio               *AudioContent        `json:"audio,omitempty"`
	File                *FileContent         `json:"file,omitempty"`
	Products            []Product            `json:"products,omitempty"`
	RecommendedProducts *RecommendedProducts `json:"recommended_products,omitempty"`
	Call                *CallContent         `json:"call,omitempty"`
	System              *SystemContent       `json:"system,omitempty"`
}

// IsServer reports whether the record is authoritative.
func (m CanonicalMessage) IsServer() bool { return m.Provenance == ProvServer }

type ImageContent struct {
	URL      string `json:"url"`
	FileName string `json:"file_name,omitempty"`
}

type AudioContent struct {
	URL string `json:"url"`
	// DurationMs is the canonical unit. Upstream producers disagree on
	// units; values < 3600 are assumed to be seconds and scaled.
	DurationMs    int64  `json:"duration_ms,omitempty"`
	Transcription string `json:"transcription,omitempty"`
}

type FileContent struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

type Product struct {
	ID              string  `json:"id"`
	Title           string  `json:"title,omitempty"`
	Name            string  `json:"name,omitempty"`
	PhotoURL        string  `json:"photoUrl,omitempty"`
	Price           float64 `json:"price,omitempty"`
	DiscountedPrice float64 `json:"discountedPrice,omitempty"`
	Description     string  `json:"description,omitempty"`
}

// RecommendedProduct is the newer product card shape carried by
// recommended_products system payloads.
type RecommendedProduct struct {
	Title          string      `json:"title,omitempty"`
	Description    string      `json:"description,omitempty"`
	ActualAmount   float64     `json:"actual_amount,omitempty"`
	SellingAmount  float64     `json:"selling_amount,omitempty"`
	ImageURL       string      `json:"image_url,omitempty"`
	ActionID       string      `json:"action_id,omitempty"`
	RedirectionURL string      `json:"redirection_url,omitempty"`
	CTADetails     *CTADetails `json:"cta_details,omitempty"`
}

type CTADetails struct {
	Text      string `json:"text,omitempty"`
	TextColor string `json:"text_color,omitempty"`
	BgColor   string `json:"bg_color,omitempty"`
}

type RecommendedProducts struct {
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	ProductList []RecommendedProduct `json:"product_list,omitempty"`
}

// Call actions carried by call payloads.
const (
	CallActionInitiate = "initiate"
	CallActionAccept   = "accept"
	CallActionReject   = "reject"
	CallActionEnd      = "end"
)

type CallContent struct {
	// Type is "video" or "audio"; defaults to video when absent upstream.
	Type            string  `json:"type"`
	Action          string  `json:"action"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Channel         string  `json:"channel,omitempty"`
}

type IconsDetails struct {
	LeftIcon  string `json:"left_icon,omitempty"`
	RightIcon string `json:"right_icon,omitempty"`
}

type RedirectionDetail struct {
	CTADetails  *CTADetails `json:"cta_details,omitempty"`
	RedirectURL string      `json:"redirect_url,omitempty"`
	ActionID    string      `json:"action_id,omitempty"`
}

// SystemContent carries visible system notices. Subtype holds the legacy
// type-field form ("meal_plan_updated"); ActionType holds the newer
// array-payload form ("coach_assigned", "coach_details").
type SystemContent struct {
	Subtype            string              `json:"subtype,omitempty"`
	ActionType         string              `json:"action_type,omitempty"`
	Title              string              `json:"title,omitempty"`
	Description        string              `json:"description,omitempty"`
	IconsDetails       *IconsDetails       `json:"icons_details,omitempty"`
	RedirectionDetails []RedirectionDetail `json:"redirection_details,omitempty"`
}

// Tag returns the identifying subtype used for match keys: Subtype when set,
// else ActionType.
func (s *SystemContent) Tag() string {
	if s == nil {
		return ""
	}
	if s.Subtype != "" {
		return s.Subtype
	}
	return s.ActionType
}
