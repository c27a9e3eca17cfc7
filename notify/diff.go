package notify

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// editRewriteRatio is the share of changed characters above which an edit is
// shown as a before/after block instead of an inline diff.
const editRewriteRatio = 0.7

// RenderEditHTML renders an edit as a Telegram-safe HTML fragment: inserted
// text underlined, removed text struck through. When most of the message
// changed, an inline diff gets unreadable, so it falls back to a before and
// after block.
func RenderEditHTML(original, edited string) string {
	if original == edited {
		return escapeHTML(edited)
	}
	if original == "" {
		return "<u>" + escapeHTML(edited) + "</u>"
	}
	if edited == "" {
		return "<s>" + escapeHTML(original) + "</s>"
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, edited, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	total, changed := 0, 0
	for _, d := range diffs {
		total += len(d.Text)
		if d.Type != diffmatchpatch.DiffEqual {
			changed += len(d.Text)
		}
	}
	if total > 0 && float64(changed)/float64(total) > editRewriteRatio {
		return "<b>Before:</b>\n" + escapeHTML(original) + "\n\n<b>After:</b>\n" + escapeHTML(edited)
	}

	var b strings.Builder
	for _, d := range diffs {
		text := escapeHTML(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString("<u>")
			b.WriteString(text)
			b.WriteString("</u>")
		case diffmatchpatch.DiffDelete:
			b.WriteString("<s>")
			b.WriteString(text)
			b.WriteString("</s>")
		default:
			b.WriteString(text)
		}
	}
	return b.String()
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}
