package dispatch

import (
	"fmt"
	"strings"

	"github.com/blockcaptain/jackwatch/internal/models"
)

// Format carries a task's rendering options.
type Format struct {
	// Headline opens every message for the task.
	Headline string
	// TopK truncates each label group; 0 keeps everything.
	TopK int
	// AuxField, when set, is an extra observation field shown per line
	// (e.g. the 15m price change next to an open-interest move).
	AuxField string
	AuxLabel string
}

var labelTitles = map[models.Label]string{
	models.LabelLongOpen:       "📈 Long build-ups",
	models.LabelLongClose:      "📉 Long unwinds",
	models.LabelShortOpen:      "📉 Short build-ups",
	models.LabelShortClose:     "📈 Short covers",
	models.LabelAboveThreshold: "📈 Moved up",
	models.LabelBelowThreshold: "📉 Moved down",
}

// BatchGroups renders one message per classification label group, truncated
// to the top K events of each group. Events must arrive in the differ's
// output order (grouped by label, magnitude descending); the truncation
// relies on it.
func BatchGroups(category string, threadID int64, f Format, events []models.CandidateEvent) []Message {
	var msgs []Message
	var order []models.Label
	grouped := make(map[models.Label][]models.CandidateEvent)
	for _, ev := range events {
		if _, ok := grouped[ev.Label]; !ok {
			order = append(order, ev.Label)
		}
		grouped[ev.Label] = append(grouped[ev.Label], ev)
	}

	for _, label := range order {
		group := grouped[label]
		if f.TopK > 0 && len(group) > f.TopK {
			group = group[:f.TopK]
		}

		var b strings.Builder
		b.WriteString(fmt.Sprintf("*%s*\n\n", EscapeMarkdownV2(f.Headline)))
		title := labelTitles[label]
		if title == "" {
			title = string(label)
		}
		if f.TopK > 0 {
			b.WriteString(fmt.Sprintf("*%s \\(top %d\\)*\n", EscapeMarkdownV2(title), f.TopK))
		} else {
			b.WriteString(fmt.Sprintf("*%s*\n", EscapeMarkdownV2(title)))
		}

		ids := make([]string, 0, len(group))
		for i, ev := range group {
			ids = append(ids, ev.ID)
			line := fmt.Sprintf("%d) %s  %s (%s → %s)",
				i+1, ev.Symbol,
				fmtSigned(ev.Delta.Change),
				fmtSigned(ev.Delta.Previous),
				fmtSigned(ev.Delta.Current),
			)
			if f.AuxField != "" {
				if aux, ok := ev.Delta.Aux[f.AuxField]; ok {
					line += fmt.Sprintf(" | %s %s%%", f.AuxLabel, fmtSigned(aux))
				}
			}
			b.WriteString(EscapeMarkdownV2(line))
			b.WriteByte('\n')
		}

		msgs = append(msgs, Message{
			Category: category,
			ThreadID: threadID,
			Text:     b.String(),
			EventIDs: ids,
		})
	}
	return msgs
}

// BatchItems renders one message per raw provider item (news headlines,
// economic releases), in input order.
func BatchItems(category string, threadID int64, f Format, events []models.CandidateEvent) []Message {
	msgs := make([]Message, 0, len(events))
	for _, ev := range events {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("*%s*\n\n", EscapeMarkdownV2(f.Headline)))

		if title := ev.Item.Text["title"]; title != "" {
			b.WriteString(fmt.Sprintf("🔔 *%s*\n", EscapeMarkdownV2(title)))
		}
		if country := ev.Item.Text["country"]; country != "" {
			b.WriteString(fmt.Sprintf("🌍 %s\n", EscapeMarkdownV2(country)))
		}
		if forecast := ev.Item.Text["forecast"]; forecast != "" {
			b.WriteString(fmt.Sprintf("📈 Forecast: %s\n", EscapeMarkdownV2(forecast)))
		}
		if previous := ev.Item.Text["previous"]; previous != "" {
			b.WriteString(fmt.Sprintf("📊 Previous: %s\n", EscapeMarkdownV2(previous)))
		}
		if source := ev.Item.Text["source"]; source != "" {
			b.WriteString(fmt.Sprintf("🔍 Source: %s\n", EscapeMarkdownV2(source)))
		}
		if url := ev.Item.Text["url"]; url != "" {
			b.WriteString(fmt.Sprintf("🔗 [Read more](%s)\n", url))
		}

		msgs = append(msgs, Message{
			Category: category,
			ThreadID: threadID,
			Text:     b.String(),
			EventIDs: []string{ev.ID},
		})
	}
	return msgs
}

func fmtSigned(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.2f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// EscapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
