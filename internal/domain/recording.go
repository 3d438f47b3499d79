package domain

// RecordingMatch is one item from the device listing whose title (and, when
// requested, episode title) matched the caller's request. Season and episode
// numbers start unknown and are attached later by metadata enrichment.
type RecordingMatch struct {
	Title        string
	EpisodeTitle string // empty for movies/one-offs
	Link         string

	seasonNum  int
	episodeNum int
}

// SetNumbers attaches season/episode numbers. Both must be positive; the
// pair is only ever set together.
func (m *RecordingMatch) SetNumbers(season, episode int) {
	if season > 0 && episode > 0 {
		m.seasonNum = season
		m.episodeNum = episode
	}
}

func (m RecordingMatch) Numbers() (season, episode int, ok bool) {
	if m.seasonNum > 0 && m.episodeNum > 0 {
		return m.seasonNum, m.episodeNum, true
	}
	return 0, 0, false
}

// Result is what a run reports back to the invoking automation runtime.
type Result struct {
	Msg     string `json:"msg"`
	Changed bool   `json:"changed"`
	Failed  bool   `json:"failed,omitempty"`
}
