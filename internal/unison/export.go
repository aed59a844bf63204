package unison

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// exportPageSize bounds how many messages are pulled per store round-trip
// while exporting.
const exportPageSize = 500

// ExportThread writes a thread's messages to w as a tab-separated
// transcript, oldest first: timestamp, direction, identity, body. Newlines
// and tabs inside a body are flattened so each message stays on one line.
func ExportThread(ctx context.Context, s Store, key string, w io.Writer) error {
	thread, err := s.GetThread(ctx, key)
	if err != nil {
		return fmt.Errorf("loading thread: %w", err)
	}
	if thread == nil {
		return fmt.Errorf("thread not found: %s", key)
	}

	offset := 0
	for {
		msgs, _, err := s.ListMessages(ctx, key, exportPageSize, offset)
		if err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, m := range msgs {
			line := fmt.Sprintf("%s\t%s\t%s\t%s\n",
				m.SentAt.UTC().Format(time.RFC3339),
				m.Direction,
				m.Identity,
				flatten(m.Body),
			)
			if _, err := io.WriteString(w, line); err != nil {
				return fmt.Errorf("writing transcript: %w", err)
			}
		}
		offset += len(msgs)
	}
}

func flatten(s string) string {
	r := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")
	return r.Replace(s)
}
