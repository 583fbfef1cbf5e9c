package prompt

import "github.com/MrWong99/flowtalk/pkg/types"

// Reply field names.
const (
	FieldResponseText        = "ai_response_text"
	FieldResponseTranslation = "ai_response_translation"
	FieldSuggestedScript     = "suggested_user_script"
	FieldScriptTranslation   = "script_translation"
	FieldFeedback            = "feedback"
)

// ReplySchema returns the structured-output contract every reply must meet.
func ReplySchema() types.ResponseSchema {
	return types.ResponseSchema{
		Name:        "persona_reply",
		Description: "One in-character reply plus coaching for the learner's next line.",
		Fields: []types.SchemaField{
			{Name: FieldResponseText, Description: "The text of what the AI persona says to the user.", Required: true},
			{Name: FieldResponseTranslation, Description: "Chinese translation of the AI's response.", Required: true},
			{Name: FieldSuggestedScript, Description: "Advice for the user on what to say next. Content depends on Difficulty Level.", Required: true},
			{Name: FieldScriptTranslation, Description: "Chinese translation of the suggested user script (if applicable).", Required: true},
			{Name: FieldFeedback, Description: "Brief feedback on the user's previous input (if any). Correction of grammar or praise."},
		},
	}
}
