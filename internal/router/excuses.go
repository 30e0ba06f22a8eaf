package router

import "math/rand"

// excuses is the catalog of non-technical fallback lines. Internal
// errors never reach reply text; one of these goes out instead.
var excuses = []string{
	"Oh, you silly.",
	"My brain short-circuited. One sec.",
	"Whoops, I dropped that thought. Say it again?",
	"Hmm, I lost my train of thought there.",
	"Give me a second, I got distracted by a squirrel.",
	"That one went right over my head. Try me again?",
	"I blanked. Happens to the best of us.",
	"Sorry, I was daydreaming. What was that?",
	"My wires got crossed for a moment.",
	"I swear I knew that a second ago.",
	"Let me shake the cobwebs out and try again.",
	"That didn't come out right. One more time?",
	"I tripped over my own thoughts there.",
	"Hold on, rebooting my manners.",
	"Well, that's embarrassing. Ask me again?",
	"I had it, and then it was gone.",
	"My crystal ball is foggy right now.",
	"I'm a little scrambled. Bear with me.",
	"That thought escaped before I could catch it.",
	"Oops, brain freeze. And I didn't even have ice cream.",
	"I must have left that answer in my other pants.",
	"Static on the line. Mind repeating that?",
}

// excuse picks a random catalog entry.
func excuse() string {
	return excuses[rand.Intn(len(excuses))]
}
