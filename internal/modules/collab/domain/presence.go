package domain

// Palette is the fixed set of participant colors.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
}

// ColorFor sums the code points of userID, so the result does not depend on
// who computes it or when.
func ColorFor(userID string) string {
	sum := 0
	for _, r := range userID {
		sum += int(r)
	}
	return Palette[sum%len(Palette)]
}

// Participant is ephemeral presence state; the latest update always wins.
type Participant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	Cursor    *Position `json:"cursor,omitempty"`
	Selection *Range    `json:"selection,omitempty"`
	Color     string    `json:"color"`
}

func NewParticipant(userID, name string) Participant {
	if name == "" {
		name = userID
	}
	return Participant{ID: userID, Name: name, Color: ColorFor(userID)}
}

func (p Participant) Clone() Participant {
	if p.Cursor != nil {
		c := *p.Cursor
		p.Cursor = &c
	}
	if p.Selection != nil {
		s := *p.Selection
		p.Selection = &s
	}
	return p
}
