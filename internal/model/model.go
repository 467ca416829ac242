package model

import "time"

// Role represents a conversation turn role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// State represents the lifecycle state of a practice session.
type State string

const (
	StateIdle           State = "idle"
	StateLoadingPassage State = "loading_passage"
	StateConnecting     State = "connecting"
	StateInConversation State = "in_conversation"
	StateEnding         State = "ending"
	StateGrading        State = "grading"
	StatePersisting     State = "persisting"
	StateComplete       State = "complete"
	StateError          State = "error"
)

// AnswerDelimiter joins question texts and recommended answers when they are
// flattened into a single session record column.
const AnswerDelimiter = "|||"

// Passage is a reading passage the learner discusses with the tutor.
type Passage struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	TimeLimit int        `json:"timeLimit"` // suggested reading time in minutes
	Questions []Question `json:"questions"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Question is a discussion question attached to a passage. RecommendedAnswer
// is used only as a grading reference and is never shown to the learner.
type Question struct {
	ID                string `json:"id"`
	PassageID         string `json:"passageId"`
	Text              string `json:"questionText"`
	RecommendedAnswer string `json:"recommendedAnswer"`
	Order             int    `json:"order"`
}

// PassageSummary is a passage listing entry with its usage count.
type PassageSummary struct {
	Passage
	SessionCount int `json:"sessionCount"`
}

// Turn is a single utterance in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Evaluation holds the six sub-scores, the overall score, and the feedback
// produced by grading one completed transcript. Scores are 0-100.
type Evaluation struct {
	ComprehensionScore  int `json:"comprehensionScore"`
	FluencyScore        int `json:"fluencyScore"`
	LexicalScore        int `json:"lexicalScore"`
	GrammaticalScore    int `json:"grammaticalScore"`
	PronunciationScore  int `json:"pronunciationScore"`
	ResponsivenessScore int `json:"responsivenessScore"`
	OverallScore        int `json:"overallScore"`

	ComprehensionFeedback  string `json:"comprehensionFeedback"`
	FluencyFeedback        string `json:"fluencyFeedback"`
	LexicalFeedback        string `json:"lexicalFeedback"`
	GrammaticalFeedback    string `json:"grammaticalFeedback"`
	PronunciationFeedback  string `json:"pronunciationFeedback"`
	ResponsivenessFeedback string `json:"responsivenessFeedback"`
	OverallFeedback        string `json:"overallFeedback"`
}

// SessionRecord is the durable artifact of one completed, graded session.
// It is created exactly once and never updated.
type SessionRecord struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	PassageID      string `json:"passageId"`
	FullTranscript string `json:"fullTranscript"`
	Duration       int    `json:"duration"` // connected time in whole seconds

	Evaluation

	// Serialized question context for audit and review, joined with
	// AnswerDelimiter. UserAnswers may be empty.
	QuestionsAsked     string `json:"questionsAsked"`
	UserAnswers        string `json:"userAnswers"`
	RecommendedAnswers string `json:"recommendedAnswers"`

	CreatedAt time.Time `json:"createdAt"`
}

// PracticeConfig holds runtime session parameters set via CLI flags.
type PracticeConfig struct {
	UserID        string // placeholder user id until real authentication exists
	MinDuration   int    // seconds of connected time required before end is allowed
	Voice         string // tutor voice profile
	RealtimeModel string // realtime voice model name
}

// PassageImport is used for loading passages from JSON seed files.
type PassageImport struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	TimeLimit int              `json:"timeLimit"`
	Questions []QuestionImport `json:"questions"`
}

// QuestionImport is a question inside a PassageImport.
type QuestionImport struct {
	ID                string `json:"id"`
	QuestionText      string `json:"questionText"`
	RecommendedAnswer string `json:"recommendedAnswer"`
	Order             int    `json:"order"`
}
