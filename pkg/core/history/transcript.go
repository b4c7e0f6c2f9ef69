package history

import "strings"

// Transcript renders the finalized history as plain text. Each utterance is
// written with a trailing space, so consecutive utterances from the same
// character collapse into one line; narrated actions render in asterisks;
// scene changes and triggers carry a ">>>" marker.
func (r *Reconstructor) Transcript() string {
	items := r.Get()

	var b strings.Builder
	lastSpeaker := ""
	openLine := false

	endLine := func() {
		if openLine {
			b.WriteString("\n")
			openLine = false
		}
		lastSpeaker = ""
	}

	for _, item := range items {
		switch item.Type {
		case ItemActor:
			speaker := r.speakerName(item)
			if openLine && speaker == lastSpeaker {
				b.WriteString(item.Text)
				b.WriteString(" ")
				continue
			}
			endLine()
			b.WriteString(speaker)
			if r.cfg.EmotionCode != nil && item.Source.IsAgent() {
				if code := r.cfg.EmotionCode(item.InteractionID); code != "" {
					b.WriteString(" (")
					b.WriteString(code)
					b.WriteString(")")
				}
			}
			b.WriteString(": ")
			b.WriteString(item.Text)
			b.WriteString(" ")
			lastSpeaker = speaker
			openLine = true

		case ItemNarratedAction:
			endLine()
			b.WriteString(r.speakerName(item))
			b.WriteString(": *")
			b.WriteString(item.Text)
			b.WriteString("*\n")

		case ItemTriggerEvent, ItemTaskEvent:
			endLine()
			b.WriteString(">>> ")
			b.WriteString(item.EventName)
			b.WriteString("\n")

		case ItemSceneChange:
			endLine()
			b.WriteString(">>> Now in ")
			b.WriteString(item.SceneName)
			b.WriteString("\n")
		}
	}
	endLine()
	return b.String()
}

func (r *Reconstructor) speakerName(item Item) string {
	if item.Source.IsPlayer() {
		if r.cfg.PlayerName != "" {
			return r.cfg.PlayerName
		}
		return "Player"
	}
	name := item.Source.Name
	if r.cfg.CharacterName != nil {
		if resolved := r.cfg.CharacterName(name); resolved != "" {
			return resolved
		}
	}
	if name == "" {
		return "Unknown"
	}
	return name
}
