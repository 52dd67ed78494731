package domain

import "time"

// RoomStatus is the lifecycle phase of a room. Transitions are monotonic:
// waiting -> in_progress -> completed.
type RoomStatus string

const (
	RoomWaiting    RoomStatus = "waiting"
	RoomInProgress RoomStatus = "in_progress"
	RoomCompleted  RoomStatus = "completed"
)

// AnswerStatus is the phase of the per-question answer cycle.
type AnswerStatus string

const (
	AnswerIdle       AnswerStatus = "idle"
	AnswerInProgress AnswerStatus = "answering_in_progress"
	AnswerCorrect    AnswerStatus = "correct"
	AnswerIncorrect  AnswerStatus = "incorrect"
)

// ClassType distinguishes user-authored quiz banks from official ones.
type ClassType string

const (
	ClassUserCreated ClassType = "user_created"
	ClassOfficial    ClassType = "official"
)

// QuizType is the answer input mode of a quiz.
type QuizType string

const (
	QuizMultipleChoice QuizType = "multiple_choice"
	QuizInput          QuizType = "input"
)

// Participant is one member of a room. JoinedAt orders leader succession.
type Participant struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	IconID   int       `json:"iconId"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joinedAt"`
}

// TurnState describes the active question and who may answer it.
type TurnState struct {
	QuizID          string       `json:"quizId"`
	CurrentAnswerer string       `json:"currentAnswerer,omitempty"`
	AnswerStatus    AnswerStatus `json:"answerStatus"`
}

// Room is the shared session document coordinating participants through a
// quiz sequence. It is mutated by whichever client holds the leader role;
// other clients only read and project.
type Room struct {
	RoomID               string                 `json:"roomId"`
	Name                 string                 `json:"name"`
	Genre                string                 `json:"genre"`
	ClassType            ClassType              `json:"classType"`
	UnitID               string                 `json:"unitId,omitempty"`
	Status               RoomStatus             `json:"status"`
	RoomLeaderID         string                 `json:"roomLeaderId"`
	Participants         map[string]Participant `json:"participants"`
	QuizIDs              []string               `json:"quizIds,omitempty"`
	CurrentQuizIndex     int                    `json:"currentQuizIndex"`
	CurrentState         *TurnState             `json:"currentState,omitempty"`
	ReadyForNextQuestion bool                   `json:"readyForNextQuestion"`
	// StatsUpdated is a legacy room-level flag kept for older clients; the
	// stats finalizer relies on its own per-client guard instead.
	StatsUpdated bool       `json:"statsUpdated"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// HasAnswerRight reports whether userID may currently submit an answer.
// The right covers the incorrect state so the same participant can retry.
func (r *Room) HasAnswerRight(userID string) bool {
	if r.CurrentState == nil || r.Status != RoomInProgress {
		return false
	}
	if r.CurrentState.CurrentAnswerer != userID {
		return false
	}
	return r.CurrentState.AnswerStatus == AnswerInProgress ||
		r.CurrentState.AnswerStatus == AnswerIncorrect
}

// IsLeader reports whether userID holds the leader role.
func (r *Room) IsLeader(userID string) bool {
	return r.RoomLeaderID == userID
}

// CurrentQuizID returns the quiz id at the current index, or "" before start
// and past the final question.
func (r *Room) CurrentQuizID() string {
	if r.CurrentQuizIndex < 0 || r.CurrentQuizIndex >= len(r.QuizIDs) {
		return ""
	}
	return r.QuizIDs[r.CurrentQuizIndex]
}

// Scope returns the quiz bank branch this room draws questions from. Rooms
// resolve questions only through their own scope so a stale quiz reference
// from a previous room can never leak into grading.
func (r *Room) Scope() QuizScope {
	return QuizScope{Genre: r.Genre, UnitID: r.UnitID, ClassType: r.ClassType}
}

// RoomListing is a lobby view of one open room.
type RoomListing struct {
	RoomID           string     `json:"roomId"`
	Name             string     `json:"name"`
	Genre            string     `json:"genre"`
	ClassType        ClassType  `json:"classType"`
	UnitID           string     `json:"unitId,omitempty"`
	Status           RoomStatus `json:"status"`
	ParticipantCount int        `json:"participantCount"`
}

// UserStats is the per-user aggregate updated by the stats finalizer.
type UserStats struct {
	RoomsCompleted    int `json:"roomsCompleted"`
	QuestionsAnswered int `json:"questionsAnswered"`
	CorrectAnswers    int `json:"correctAnswers"`
	TotalScore        int `json:"totalScore"`
}

// UserProfile is the user document. CurrentRoomID is a non-owning
// back-reference used only as a hint; it must be reconciled against the
// room's participants map before being trusted.
type UserProfile struct {
	UserID        string    `json:"userId"`
	Username      string    `json:"username"`
	IconID        int       `json:"iconId"`
	CurrentRoomID string    `json:"currentRoomId,omitempty"`
	Stats         UserStats `json:"stats"`
}

// Quiz is one question as stored in the quiz bank.
type Quiz struct {
	QuizID            string    `json:"quizId"`
	Title             string    `json:"title"`
	Question          string    `json:"question"`
	Type              QuizType  `json:"type"`
	Choices           []string  `json:"choices,omitempty"`
	CorrectAnswer     string    `json:"correctAnswer"`
	AcceptableAnswers []string  `json:"acceptableAnswers,omitempty"`
	Explanation       string    `json:"explanation,omitempty"`
	Genre             string    `json:"genre"`
	UnitID            string    `json:"unitId,omitempty"`
	ClassType         ClassType `json:"classType"`
	CreatedBy         string    `json:"createdBy,omitempty"`
	UseCount          int       `json:"useCount"`
	CorrectCount      int       `json:"correctCount"`
}

// QuizScope addresses one branch of the quiz bank.
type QuizScope struct {
	Genre     string    `json:"genre"`
	UnitID    string    `json:"unitId,omitempty"`
	ClassType ClassType `json:"classType"`
}

// AnswerRecord is an ephemeral per-question submission, scoped to a room and
// deleted by cleanup when a leader leaves.
type AnswerRecord struct {
	RoomID      string    `json:"roomId"`
	QuizIndex   int       `json:"quizIndex"`
	UserID      string    `json:"userId"`
	Answer      string    `json:"answer"`
	Correct     bool      `json:"correct"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// PendingRoomCreation is the room-creation request stashed across a
// leave-then-create switch and consumed exactly once at next startup.
// Matchmake distinguishes "find me a room like this" from an explicit
// creation, which must always yield a fresh room.
type PendingRoomCreation struct {
	Name      string    `json:"name"`
	Genre     string    `json:"genre"`
	ClassType ClassType `json:"classType"`
	UnitID    string    `json:"unitId,omitempty"`
	Matchmake bool      `json:"matchmake,omitempty"`
}
