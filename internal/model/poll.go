package model

type Poll struct {
	ID                string   `json:"id"`
	Question          string   `json:"question"`
	Options           []string `json:"options"`
	IsMultipleAnswers bool     `json:"isMultipleAnswers"`
	Votes             []Vote   `json:"votes"`
}

// HasOption проверяет, что индекс варианта существует.
func (p *Poll) HasOption(i int) bool {
	return i >= 0 && i < len(p.Options)
}

type Vote struct {
	ID          string       `json:"id"`
	PollID      string       `json:"pollId"`
	UserID      string       `json:"userId"`
	OptionIndex int          `json:"optionIndex"`
	User        *UserSummary `json:"user,omitempty"`
}
