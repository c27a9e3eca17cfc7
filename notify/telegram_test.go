package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/beltheas/scrollback/store"
)

func TestTelegramAlerterFormat(t *testing.T) {
	a := &TelegramAlerter{}
	key := store.ChannelKey{Platform: "telegram", GuildID: "", ChannelID: "-100123"}

	tests := []struct {
		name   string
		event  Event
		want   []string
		absent []string
	}{
		{
			name: "edited message carries an inline diff",
			event: Event{
				Kind:       KindMessageEdited,
				Channel:    key,
				MessageID:  "m1",
				OldContent: "meet at nine",
				NewContent: "meet at ten",
			},
			want: []string{"✏️", "telegram/-100123", "<s>nine</s>", "<u>ten</u>"},
		},
		{
			name: "deleted message shows the last known content",
			event: Event{
				Kind:      KindMessageDeleted,
				Channel:   key,
				MessageID: "m2",
				Content:   "see you <there>",
			},
			want:   []string{"🗑", "<s>see you &lt;there&gt;</s>"},
			absent: []string{"<there>"},
		},
		{
			name: "sync failure names the channel and error",
			event: Event{
				Kind:    KindSyncFailed,
				Channel: key,
				Error:   "fetch history: api down",
			},
			want: []string{"⚠️", "sync failed", "<code>fetch history: api down</code>"},
		},
		{
			name:  "channel ready produces no alert",
			event: Event{Kind: KindChannelReady, Channel: key, Name: "General"},
		},
		{
			name:  "persisted batches produce no alert",
			event: Event{Kind: KindMessagesPersisted, Channel: key, Count: 12, At: time.Now()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.format(tt.event)
			if len(tt.want) == 0 {
				if got != "" {
					t.Errorf("format(%s) = %q, want no alert", tt.event.Kind, got)
				}
				return
			}
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("format(%s) = %q, want it to contain %q", tt.event.Kind, got, want)
				}
			}
			for _, absent := range tt.absent {
				if strings.Contains(got, absent) {
					t.Errorf("format(%s) = %q, should not contain %q", tt.event.Kind, got, absent)
				}
			}
		})
	}
}

func TestSplitAlertRespectsLineBoundaries(t *testing.T) {
	lines := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		lines = append(lines, strings.Repeat("x", 100))
	}
	text := strings.Join(lines, "\n")

	chunks := splitAlert(text)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want the alert split up", len(chunks))
	}
	var rejoined []string
	for i, chunk := range chunks {
		if len(chunk) > maxAlertLen {
			t.Errorf("chunk %d is %d chars, want <= %d", i, len(chunk), maxAlertLen)
		}
		rejoined = append(rejoined, chunk)
	}
	if got := strings.Join(rejoined, "\n"); got != text {
		t.Error("rejoined chunks do not reproduce the original alert")
	}
}

func TestSplitAlertShortTextIsUntouched(t *testing.T) {
	chunks := splitAlert("one short alert")
	if len(chunks) != 1 || chunks[0] != "one short alert" {
		t.Errorf("splitAlert = %v, want the text unchanged", chunks)
	}
}
