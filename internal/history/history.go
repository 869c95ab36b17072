package history

// Utterance is one turn of the conversation, tagged with the label of whoever said it.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Labels name the two sides of the conversation. Self is the bot.
type Labels struct {
	Self  string
	Other string
}

// Context is the append-only transcript of a live session. It is owned by
// one session and not safe for concurrent use.
type Context struct {
	labels     Labels
	utterances []Utterance
}

func NewContext(labels Labels) *Context {
	return &Context{labels: labels}
}

func (c *Context) Labels() Labels { return c.labels }

func (c *Context) AppendSelf(text string) {
	c.utterances = append(c.utterances, Utterance{Speaker: c.labels.Self, Text: text})
}

func (c *Context) AppendOther(text string) {
	c.utterances = append(c.utterances, Utterance{Speaker: c.labels.Other, Text: text})
}

func (c *Context) Len() int { return len(c.utterances) }

// Utterances returns a copy of the transcript.
func (c *Context) Utterances() []Utterance {
	out := make([]Utterance, len(c.utterances))
	copy(out, c.utterances)
	return out
}
