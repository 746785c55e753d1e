package router

import "regexp"

// Pattern is one weighted entry of the confidence table. Match is a
// case-insensitive regular expression; Category groups related patterns so
// the router can tell a resource lookup from a generic factual question.
// The table is configuration data, not logic: callers may supply their own.
type Pattern struct {
	Match    string  `json:"match"`
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
}

// Pattern categories.
const (
	CategoryResource = "resource"
	CategoryLocation = "location"
	CategoryFactual  = "factual"
)

// DefaultPatterns is the built-in confidence table for a support-line
// deployment focused on shelters and related services.
var DefaultPatterns = []Pattern{
	{Match: `\bshelters?\b`, Category: CategoryResource, Weight: 0.5},
	{Match: `\bsafe (house|place|housing)\b`, Category: CategoryResource, Weight: 0.5},
	{Match: `\b(housing|somewhere to (stay|sleep))\b`, Category: CategoryResource, Weight: 0.5},
	{Match: `\b(food bank|food pantry|free meals?)\b`, Category: CategoryResource, Weight: 0.5},
	{Match: `\b(hotline|crisis line|support group)\b`, Category: CategoryResource, Weight: 0.45},
	{Match: `\b(legal aid|lawyer|restraining order|protective order)\b`, Category: CategoryResource, Weight: 0.45},
	{Match: `\b(counselor|counseling|therapist|therapy)\b`, Category: CategoryResource, Weight: 0.45},
	{Match: `\b(clinic|medical help|doctor)\b`, Category: CategoryResource, Weight: 0.4},
	{Match: `\b(somewhere safe|need to get away)\b`, Category: CategoryResource, Weight: 0.35},
	{Match: `\b(near|nearby|close to|around|in my area)\b`, Category: CategoryLocation, Weight: 0.3},
	{Match: `\bnear me\b`, Category: CategoryLocation, Weight: 0.3},
	{Match: `\b(where|address|directions?|how far)\b`, Category: CategoryFactual, Weight: 0.25},
	{Match: `\b(phone number|contact|call them)\b`, Category: CategoryFactual, Weight: 0.25},
	{Match: `\b(hours?|open|closes?|when)\b`, Category: CategoryFactual, Weight: 0.2},
	{Match: `\b(what is|what are|how (do|does|many|much))\b`, Category: CategoryFactual, Weight: 0.2},
	{Match: `\b(find|look(ing)? for|search|locate)\b`, Category: CategoryFactual, Weight: 0.2},
	{Match: `\b(help me|i need)\b`, Category: CategoryFactual, Weight: 0.1},
}

// followUpPatterns match utterances that refer back to the entity discussed
// in the previous turn: pronoun references, requests for more detail, and
// attribute questions.
var followUpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(tell me more|more (details?|info(rmation)?)|anything else about)`),
	regexp.MustCompile(`(?i)\b(do|does|are|is|can|could|will|would) (they|it|that place|this place)\b`),
	regexp.MustCompile(`(?i)^(what|how) about (them|it|that( place| one)?)\b`),
	regexp.MustCompile(`(?i)\b(their|its) (address|phone|number|hours|website)\b`),
	regexp.MustCompile(`(?i)^(where (is|are) (it|they|that))\b`),
}

// farewellPattern catches a goodbye anywhere in the utterance; a farewell
// always ends the call with no continuation prompt.
var farewellPattern = regexp.MustCompile(`(?i)\b(goodbye|good bye|bye( bye)?|hang up|that'?s all( for now)?|i'?m done)\b`)

// locationPattern extracts a trailing place name ("shelter near austin").
var locationPattern = regexp.MustCompile(`(?i)\b(?:near|in|around|close to|at)\s+([a-z][a-z0-9 .'-]{1,40})$`)

// bareLocationPattern matches an utterance that is nothing but a place name,
// the expected reply after the line has asked "what city or area?".
var bareLocationPattern = regexp.MustCompile(`(?i)^(?:in |near )?([a-z][a-z0-9 .'-]{1,40})$`)

// canned replies served straight from a static table, bypassing the cache
// and both backends. Keys are normalized utterances.
var cannedReplies = map[string]string{
	"hello":        "Hello, you've reached the Haven support line. How can I help you today?",
	"hi":           "Hi there, how can I help you today?",
	"hey":          "Hi there, how can I help you today?",
	"good morning": "Good morning. How can I help you today?",
	"thanks":       "You're welcome. Is there anything else I can help with?",
	"thank you":    "You're welcome. Is there anything else I can help with?",
	"okay":         "Alright. Is there anything else I can help with?",
	"ok":           "Alright. Is there anything else I can help with?",
	"yes please":   "Of course. What would you like to know?",
}

const farewellReply = "Thank you for calling. Take care of yourself, and don't hesitate to call back any time. Goodbye."
