package classify

import (
	"fmt"

	"fpchat/pkg/models"
)

// Preview derives the conversation-list preview string for a payload.
func Preview(p Payload) string {
	switch p.Kind {
	case models.KindImage:
		return "Photo"
	case models.KindAudio:
		return "Audio"
	case models.KindFile:
		if p.File != nil && p.File.FileName != "" {
			return "\U0001F4CE " + p.File.FileName
		}
		return "File"
	case models.KindCall:
		if p.Call != nil && p.Call.Type == "audio" {
			return "Audio call"
		}
		return "Video call"
	case models.KindProducts:
		return "Products"
	case models.KindRecommendedProducts:
		return "Recommended products"
	case models.KindSystem:
		return SystemLabel(p.System)
	case models.KindText:
		return p.Body
	}
	if p.Body != "" {
		return p.Body
	}
	return "Attachment"
}

// MessagePreview derives the conversation-list preview for a merged record.
func MessagePreview(m models.CanonicalMessage) string {
	return Preview(Payload{
		Kind:   m.Kind,
		Body:   m.Body,
		File:   m.File,
		Call:   m.Call,
		System: m.System,
	})
}

// SystemLabel is the card label for a visible system notice.
func SystemLabel(s *models.SystemContent) string {
	if s == nil {
		return ""
	}
	switch s.Tag() {
	case "meal_plan_updated":
		return "Meal plan updated"
	case "coach_assigned", "coach_details":
		if s.Title != "" {
			return s.Title
		}
		return "Coach message"
	default:
		return "System message"
	}
}

// FormatAudioDuration renders a millisecond duration as m:ss for display.
func FormatAudioDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
