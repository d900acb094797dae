// Package subtitle loads, converts and tracks subtitle cues for the active
// media source.
package subtitle

import (
	"bufio"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Cue is a single timed subtitle entry. Times are in seconds.
type Cue struct {
	ID       string  `json:"id,omitempty"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Settings string  `json:"settings,omitempty"`
}

var srtTimestamp = regexp.MustCompile(`(?:(\d{1,2}):)?(\d{2}):(\d{2})[,.](\d{3})`)

// ToWebVTT normalises SubRip or WebVTT text into WebVTT: comma decimal
// separators on timing lines become dots, hour-less timestamps gain a
// zero hour, and a WEBVTT header is prepended when missing.
func ToWebVTT(content string) string {
	content = strings.TrimPrefix(content, "\xef\xbb\xbf")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	var sb strings.Builder
	if !strings.HasPrefix(content, "WEBVTT") {
		sb.WriteString("WEBVTT\n\n")
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "-->") {
			line = srtTimestamp.ReplaceAllStringFunc(line, normalizeTimestamp)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

func normalizeTimestamp(ts string) string {
	m := srtTimestamp.FindStringSubmatch(ts)
	hours := m[1]
	if hours == "" {
		hours = "00"
	} else if len(hours) == 1 {
		hours = "0" + hours
	}
	return fmt.Sprintf("%s:%s:%s.%s", hours, m[2], m[3], m[4])
}

// ParseWebVTT extracts the cues from WebVTT text. Header, NOTE, STYLE and
// REGION blocks are skipped; blocks without a timing line are ignored, as
// are cues whose timing line cannot be parsed.
func ParseWebVTT(content string) ([]*Cue, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(strings.TrimPrefix(content, "\xef\xbb\xbf"), "WEBVTT") {
		return nil, fmt.Errorf("missing WEBVTT header")
	}

	var cues []*Cue
	blocks := strings.Split(content, "\n\n")
	for i, block := range blocks {
		block = strings.Trim(block, "\n")
		if i == 0 || block == "" {
			continue
		}
		if strings.HasPrefix(block, "NOTE") || strings.HasPrefix(block, "STYLE") || strings.HasPrefix(block, "REGION") {
			continue
		}

		lines := strings.Split(block, "\n")
		cue := &Cue{}
		timing := 0
		if !strings.Contains(lines[0], "-->") {
			if len(lines) < 2 || !strings.Contains(lines[1], "-->") {
				continue
			}
			cue.ID = strings.TrimSpace(lines[0])
			timing = 1
		}

		if err := parseTiming(lines[timing], cue); err != nil {
			slog.Debug("Skipping malformed subtitle cue", "block", i, "error", err)
			continue
		}
		cue.Text = strings.Join(lines[timing+1:], "\n")
		cues = append(cues, cue)
	}

	return cues, nil
}

func parseTiming(line string, cue *Cue) error {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid timing line %q", line)
	}

	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return err
	}

	rest := strings.Fields(parts[1])
	if len(rest) == 0 {
		return fmt.Errorf("missing end time in %q", line)
	}
	end, err := parseTimestamp(rest[0])
	if err != nil {
		return err
	}

	cue.Start = start
	cue.End = end
	cue.Settings = strings.Join(rest[1:], " ")
	return nil
}

// parseTimestamp converts "HH:MM:SS.mmm" or "MM:SS.mmm" to seconds.
func parseTimestamp(ts string) (float64, error) {
	ts = strings.Replace(ts, ",", ".", 1)
	fields := strings.Split(ts, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	seconds, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}

	total := seconds
	multiplier := 60.0
	for i := len(fields) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		total += float64(n) * multiplier
		multiplier *= 60
	}
	return total, nil
}
