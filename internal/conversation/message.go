package conversation

// Speaker identifies who produced a Message.
type Speaker string

const (
	User Speaker = "User"
	Bot  Speaker = "Bot"
)

// Other returns the opposite speaker.
func (s Speaker) Other() Speaker {
	if s == User {
		return Bot
	}
	return User
}

type Message struct {
	Speaker Speaker
	Text    string
}
