// Package prompt composes the instruction block sent with every
// conversation turn.
//
// Compose is a pure function of its Input. Four fragments are computed
// independently (learner level, difficulty mode, relationship and topic
// mastery) and joined in that fixed order beneath the persona's identity,
// followed by the response rules that hold for every tier. Identical inputs
// always produce byte-identical text.
package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/flowtalk/internal/catalog"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// Tier boundaries.
const (
	// BeginnerMaxLevel is the highest global level that gets beginner
	// vocabulary.
	BeginnerMaxLevel = 2
	// IntermediateMaxLevel is the highest global level that gets intermediate
	// vocabulary.
	IntermediateMaxLevel = 5

	// FriendMinRelationship is the first relationship level with a casual tone.
	FriendMinRelationship = 3
	// CloseFriendMinRelationship is the first relationship level with the
	// close-friend tone and no length cap.
	CloseFriendMinRelationship = 7

	// MasterThreshold is the mastery percentage that switches on master mode.
	MasterThreshold = 100.0

	// MaxReplyWords caps reply length outside the close-friend tier.
	MaxReplyWords = 40
)

// Input is everything a turn's instructions depend on.
type Input struct {
	Persona catalog.Persona
	Topic   catalog.Topic
	Mode    Mode

	// Level is the learner's global level (1-based).
	Level int

	// Relationship is the floored relationship level with Persona.
	Relationship int

	// Mastery is the learner's mastery of Topic in percent.
	Mastery float64
}

// Block is a composed instruction block.
type Block struct {
	// Text is the system instruction.
	Text string

	// Schema is the reply contract the model call must enforce.
	Schema types.ResponseSchema

	// LengthCapExempt is true when the relationship tier lifts the word cap.
	LengthCapExempt bool

	// MasterMode is true when the mastery fragment was included.
	MasterMode bool
}

// Compose builds the instruction block for in.
func Compose(in Input) Block {
	exempt := in.Relationship >= CloseFriendMinRelationship
	master := in.Mastery >= MasterThreshold

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.", in.Persona.Name)
	if d := strings.TrimSpace(in.Persona.Directive); d != "" {
		sb.WriteString("\n")
		sb.WriteString(d)
	}
	fmt.Fprintf(&sb, "\nCurrent Topic: %s - %s.", in.Topic.Title, strings.TrimSuffix(strings.TrimSpace(in.Topic.Description), "."))

	sb.WriteString("\n\n")
	sb.WriteString(LevelFragment(in.Level))
	sb.WriteString("\n")
	sb.WriteString(ModeFragment(in.Mode))

	sb.WriteString("\n\nSOCIAL CONTEXT:\n")
	sb.WriteString(RelationshipFragment(in.Relationship))

	if master {
		sb.WriteString("\n\nMASTERY CONTEXT:\n")
		sb.WriteString(MasteryFragment(in.Mastery))
	}

	sb.WriteString("\n\nINSTRUCTIONS:\n")
	fmt.Fprintf(&sb, "1. Respond to the user naturally and stay in character as %s at all times.\n", in.Persona.Name)
	fmt.Fprintf(&sb, "2. Fill '%s' strictly based on the Mode instructions above.\n", FieldSuggestedScript)
	if exempt {
		sb.WriteString("3. Deep Conversation mode: you may go beyond the usual length and speak as long as the moment needs.")
	} else {
		fmt.Fprintf(&sb, "3. Keep your responses concise (under %d words).", MaxReplyWords)
	}

	return Block{
		Text:            sb.String(),
		Schema:          ReplySchema(),
		LengthCapExempt: exempt,
		MasterMode:      master,
	}
}

// LevelFragment returns the vocabulary instruction for a global level.
func LevelFragment(level int) string {
	switch {
	case level <= BeginnerMaxLevel:
		return "User Level: Beginner (Level 1-2). Use simple CET-4 vocabulary. Speak slowly and clearly. Avoid complex idioms."
	case level <= IntermediateMaxLevel:
		return "User Level: Intermediate (Level 3-5). Use standard CET-4/6 vocabulary. Introduce compound sentences. Speak at a normal conversational pace."
	default:
		return "User Level: Advanced (Level 6+). Use advanced vocabulary and idioms. Speak naturally and fast. Challenge the user with complex questions."
	}
}

// ModeFragment returns the instruction that defines the suggested script for
// a difficulty mode. Invalid modes fall back to L1.
func ModeFragment(m Mode) string {
	switch m {
	case L2:
		return "Mode: L2 (English Script). You MUST provide a complete, natural English sentence in 'suggested_user_script', but make it slightly more complex."
	case L3:
		return "Mode: L3 (Keywords). Do NOT provide a full sentence. In 'suggested_user_script', provide 3-4 key English vocabulary words or a sentence starter (e.g., 'I think that...') that help the user answer."
	case L4:
		return "Mode: L4 (Free Talk). In 'suggested_user_script', provide a short thematic goal or question to guide them (e.g., 'Ask about the price'), but NO actual English words to say."
	default:
		return "Mode: L1 (Full Script). You MUST provide a complete, natural English sentence in 'suggested_user_script' for the user to read exactly."
	}
}

// RelationshipFragment returns the tone instruction for a relationship level.
func RelationshipFragment(relationship int) string {
	switch {
	case relationship < FriendMinRelationship:
		return "Relationship: Acquaintance. Be polite, formal, and helpful. Keep boundaries."
	case relationship < CloseFriendMinRelationship:
		return "Relationship: Friend. Be casual, warm, and joke occasionally. Use contraction words (I'm, It's)."
	default:
		return "Relationship: Close Friend / Bestie. Be very open, share personal opinions, use slang/idioms freely. Show deep empathy. You are not bound by the usual length limit."
	}
}

// MasteryFragment returns the master-mode challenge, or "" below
// MasterThreshold.
func MasteryFragment(mastery float64) string {
	if mastery < MasterThreshold {
		return ""
	}
	return "TOPIC MASTERY: 100% (MASTER MODE). The user has mastered this topic. Do NOT make it easy. " +
		"Challenge them with 'What if' scenarios. Ask them to explain their reasoning in detail. " +
		"Push for 'Variation Practice' (applying the concept to a new context)."
}
